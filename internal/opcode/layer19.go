package opcode

import "github.com/leengari/oracdc/internal/redo"

// registerLayer19 installs the direct-load LOB handler.
func registerLayer19(d *Dispatcher) {
	d.Register(OpLobDirectLoad, decodeLobDirectLoad)
}

// lobDirectHeaderSize is the fixed header field a 19.1 vector leads with:
// obj:32, data_obj:32, lob_id:10 bytes, page_no:32, data_size:32, the rest
// reserved.
const lobDirectHeaderSize = 36

// decodeLobDirectLoad decodes a 19.1 vector: a direct-path LOB page write
// bypassing the buffer cache. The page bytes ride in field 1; the fixed
// header in field 0 identifies which LOB and which page they belong to.
func decodeLobDirectLoad(v redo.ChangeVector, row *Row) error {
	hdr, err := v.Field(0)
	if err != nil {
		return err
	}
	if len(hdr) < lobDirectHeaderSize {
		return &redo.TruncatedField{Field: "lob_direct_header", Want: lobDirectHeaderSize, Have: len(hdr)}
	}
	r := redo.NewBinaryReader(hdr, redo.ByteOrder)
	obj, _ := r.U32(0)
	dataObj, _ := r.U32(4)
	lobId, _ := r.LobId(8)
	pageNo, _ := r.U32(20)
	dataSize, _ := r.U32(24)

	row.Obj = redo.TypeObj(obj)
	row.DataObj = redo.TypeDataObj(dataObj)
	row.LobId = lobId
	row.LobPageNo = pageNo
	row.LobDataSize = dataSize

	if data := v.FieldOpt(1); data != nil {
		row.LobData = data
		if row.LobDataSize == 0 {
			row.LobDataSize = uint32(len(data))
		}
	}
	return nil
}
