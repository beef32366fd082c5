package opcode

import "github.com/leengari/oracdc/internal/redo"

// registerLayer24 installs the DDL-marker handler.
func registerLayer24(d *Dispatcher) {
	d.Register(OpDDL, decodeDDL)
}

// decodeDDL decodes a 24.1 vector: the object id the DDL touched and, when
// present, the statement text. Whether the marker is appended to the current
// transaction or dropped is a schema-filter decision made by the state
// machine, not here.
func decodeDDL(v redo.ChangeVector, row *Row) error {
	hdr, err := v.Field(0)
	if err != nil {
		return err
	}
	r := redo.NewBinaryReader(hdr, redo.ByteOrder)
	obj, err := r.U32(0)
	if err != nil {
		return err
	}
	row.Obj = redo.TypeObj(obj)
	row.DdlObj = redo.TypeObj(obj)
	if dataObj, err := r.U32(4); err == nil {
		row.DataObj = redo.TypeDataObj(dataObj)
	}
	if text := v.FieldOpt(1); len(text) > 0 {
		row.DdlText = string(trimNul(text))
	}
	return nil
}

// trimNul drops a trailing NUL terminator if the text carries one.
func trimNul(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == 0 {
		return b[:n-1]
	}
	return b
}
