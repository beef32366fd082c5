package opcode

import "github.com/leengari/oracdc/internal/redo"

// registerLayer5 installs the transaction-control layer handlers: undo
// header, begin, commit/rollback, partial rollback, transaction-table
// extension, and session info.
func registerLayer5(d *Dispatcher) {
	d.Register(OpUndoHeader, decodeUndoHeader)
	d.Register(OpBeginTransaction, decodeBeginTransaction)
	d.Register(OpCommit, decodeCommit)
	d.Register(OpPartialRollback, decodePartialRollback)
	d.Register(OpTxnTableExtend, decodeTxnTableExtend)
	d.Register(OpSessionInfo, decodeSessionInfo)
	d.Register(OpSessionInfoExt, decodeSessionInfo)
}

// decodeUndoHeader decodes a 5.1 vector: obj/data_obj and the KTB envelope
// describing the owning transaction. The paired data/index/LOB vector that
// normally follows in the same record is decoded separately and stitched
// together by internal/txn's pairing state machine (§4.6), not here.
func decodeUndoHeader(v redo.ChangeVector, row *Row) error {
	obj, err := v.Field(0)
	if err != nil {
		return err
	}
	dataObj, err := v.Field(1)
	if err != nil {
		return err
	}
	row.Obj = redo.TypeObj(beU32(obj))
	row.DataObj = redo.TypeDataObj(beU32(dataObj))

	ktbField, err := v.Field(2)
	if err == nil {
		ktb, kerr := ParseKtb(ktbField)
		if kerr == nil {
			row.KtbOp = ktb.Op
			row.KtbBlockCleanout = ktb.BlockCleanout
			row.KtbXid = ktb.Xid
			row.KtbUba = ktb.Uba
			if ktb.Xid != redo.ZeroXid {
				row.Xid = ktb.Xid
			}
		}
	}
	return nil
}

// decodeBeginTransaction decodes a 5.2 vector's ktudh: the transaction's xid.
func decodeBeginTransaction(v redo.ChangeVector, row *Row) error {
	field, err := v.Field(0)
	if err != nil {
		return err
	}
	r := redo.NewBinaryReader(field, redo.ByteOrder)
	xid, err := r.Xid(0)
	if err != nil {
		return err
	}
	row.Xid = xid
	return nil
}

// decodeCommit decodes a 5.4 vector's ktucm: the xid being closed. The
// commit/rollback SCN itself comes from the enclosing record header (§3,
// RedoLogRecord.Scn), not this vector; whether this closes the transaction
// via commit or rollback is determined by the FlgRollbackOp0504 bit already
// captured in row.Flags by the dispatcher.
func decodeCommit(v redo.ChangeVector, row *Row) error {
	field, err := v.Field(0)
	if err != nil {
		return err
	}
	r := redo.NewBinaryReader(field, redo.ByteOrder)
	xid, err := r.Xid(0)
	if err != nil {
		return err
	}
	row.Xid = xid
	return nil
}

// IsRollback reports whether a 5.4 vector's flags mark it a rollback rather
// than a commit.
func IsRollback(flg uint16) bool {
	return flg&FlgRollbackOp0504 != 0
}

// decodePartialRollback decodes a 5.6 vector. It carries no payload beyond
// its envelope; the state machine matches it against the preceding data
// vector in the same transaction by (bdba, slot).
func decodePartialRollback(v redo.ChangeVector, row *Row) error {
	return nil
}

// decodeTxnTableExtend decodes a 5.11 vector's ktub: updated obj/data_obj.
func decodeTxnTableExtend(v redo.ChangeVector, row *Row) error {
	obj, err := v.Field(0)
	if err != nil {
		return err
	}
	row.Obj = redo.TypeObj(beU32(obj))
	if dataObj, err := v.Field(1); err == nil {
		row.DataObj = redo.TypeDataObj(beU32(dataObj))
	}
	return nil
}

// decodeSessionInfo decodes a 5.19/5.20 vector: a sequence of
// (attribute-key:u16, value:string) field pairs. The numeric keys map to the
// closed session-attribute enum; unknown keys are kept and dropped by the
// consumer, so a newer writer's extra attributes don't abort the record.
func decodeSessionInfo(v redo.ChangeVector, row *Row) error {
	for i := 0; i+1 < len(v.Fields); i += 2 {
		keyField, err := v.Field(i)
		if err != nil {
			return err
		}
		if len(keyField) < 2 {
			continue
		}
		valField, err := v.Field(i + 1)
		if err != nil {
			return err
		}
		row.AttrCodes = append(row.AttrCodes, redo.ByteOrder.Uint16(keyField))
		row.AttrVals = append(row.AttrVals, valField)
	}
	return nil
}

func beU32(b []byte) uint32 {
	if len(b) < 4 {
		var v uint32
		for _, c := range b {
			v = v<<8 | uint32(c)
		}
		return v
	}
	return redo.ByteOrder.Uint32(b)
}
