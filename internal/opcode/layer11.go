package opcode

import "github.com/leengari/oracdc/internal/redo"

// registerLayer11 installs the table-layer (KDO) handler for every kdo_op
// sub-type under a single entry point, since they all share the same
// ktb_redo prelude and field layout and differ only in which trailing
// fields (row data vs. key pointers vs. nothing) are meaningful.
func registerLayer11(d *Dispatcher) {
	d.Register(Op{Layer: 11, Sub: SubAny}, decodeKdo)
}

// kdoRowHeader is field 1 of every KDO vector: slot:16, fb:8, cc:8.
const kdoRowHeaderSize = 4

// decodeKdo decodes the common KDO prelude (KTB envelope, slot/fb/cc, nulls
// bitmap, row data) shared by IRP/DRP/LKR/URP/ORP/CFA/SKL/QMI/QMD/CKI/DSC/
// LMN/LLB/SHK/CMP/DCU/MRK, selecting the specific sub-op via v.Typ & 0x1F.
func decodeKdo(v redo.ChangeVector, row *Row) error {
	if ktbField := v.FieldOpt(0); ktbField != nil {
		if ktb, err := ParseKtb(ktbField); err == nil {
			row.KtbOp = ktb.Op
			row.KtbBlockCleanout = ktb.BlockCleanout
			row.KtbXid = ktb.Xid
			row.KtbUba = ktb.Uba
		}
	}

	hdr, err := v.Field(1)
	if err != nil {
		return err
	}
	if len(hdr) < kdoRowHeaderSize {
		return &redo.TruncatedField{Field: "kdo_row_header", Want: kdoRowHeaderSize, Have: len(hdr)}
	}
	row.Slot = redo.ByteOrder.Uint16(hdr[0:2])
	row.Fb = hdr[2]
	row.Cc = hdr[3]

	row.KdoOp = v.Typ & 0x1F

	idx := 2
	if nulls := v.FieldOpt(idx); nulls != nil {
		row.NullsOffset = idx
		idx++
	}

	row.RowDataIdx = idx
	for ; idx < len(v.Fields); idx++ {
		col, err := v.Field(idx)
		if err != nil {
			break
		}
		row.SuppLogCols = append(row.SuppLogCols, col)
	}

	// Row-chaining pointers: present when the row piece isn't both first and
	// last (fb&F==0 or fb&L==0). They ride as the final one or two fields
	// rather than as row data, but without a real Oracle trace to check
	// exact field counts against, we treat any 10-byte trailing field as a
	// candidate rowid rather than guessing which op types carry it.
	if row.Fb&FbL == 0 && len(row.SuppLogCols) > 0 {
		if last := row.SuppLogCols[len(row.SuppLogCols)-1]; len(last) == 10 {
			r := redo.NewBinaryReader(last, redo.ByteOrder)
			if rid, err := r.RowId(0); err == nil {
				row.Nrid = rid
				row.HasNrid = true
				row.SuppLogCols = row.SuppLogCols[:len(row.SuppLogCols)-1]
			}
		}
	}
	if row.Fb&FbF == 0 && len(row.SuppLogCols) > 0 {
		if last := row.SuppLogCols[len(row.SuppLogCols)-1]; len(last) == 10 {
			r := redo.NewBinaryReader(last, redo.ByteOrder)
			if rid, err := r.RowId(0); err == nil {
				row.Hrid = rid
				row.HasHrid = true
				row.SuppLogCols = row.SuppLogCols[:len(row.SuppLogCols)-1]
			}
		}
	}

	return nil
}
