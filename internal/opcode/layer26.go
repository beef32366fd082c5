package opcode

import "github.com/leengari/oracdc/internal/redo"

// registerLayer26 installs the KDLI (LOB data) handlers.
func registerLayer26(d *Dispatcher) {
	d.Register(OpKdliData, decodeKdli)
	d.Register(OpKdliLoad, decodeKdli)
}

// KDLI common operation values.
const (
	KdliOpRedo uint8 = iota
	KdliOpUndo
	KdliOpCR
	KdliOpFrmt
	KdliOpInvl
	KdliOpLoad
	KdliOpBimg
	KdliOpSinv
)

// KDLI block type values.
const (
	KdliTypeNew uint8 = iota
	KdliTypeLock
	KdliTypeLhb
	KdliTypeData
	KdliTypeBtree
	KdliTypeItree
	KdliTypeAux
)

// KDLI sub-record code bytes, taken from the original opcode tables rather
// than re-derived.
const (
	KdliCodeInfo       uint8 = 0x01
	KdliCodeLoadCommon uint8 = 0x02
	KdliCodeLoadData   uint8 = 0x04
	KdliCodeZero       uint8 = 0x05
	KdliCodeFill       uint8 = 0x06
	KdliCodeLmap       uint8 = 0x07
	KdliCodeLmapx      uint8 = 0x08
	KdliCodeSuplog     uint8 = 0x09
	KdliCodeGmap       uint8 = 0x0A
	KdliCodeFpload     uint8 = 0x0B
	KdliCodeLoadLhb    uint8 = 0x0C
	KdliCodeAlmap      uint8 = 0x0D
	KdliCodeAlmapx     uint8 = 0x0E
	KdliCodeLoadItree  uint8 = 0x0F
	KdliCodeImap       uint8 = 0x10
	KdliCodeImapx      uint8 = 0x11
)

// kdliCommonSize is the fixed first field of every 26.x vector:
// op:8, type:8, psiz:16, poff:32, dba:32.
const kdliCommonSize = 12

// KdliCommon is the decoded lead field shared by every KDLI vector.
type KdliCommon struct {
	Op   uint8
	Type uint8
	Psiz uint16
	Poff uint32
	Dba  redo.Dba
}

// ParseKdliCommon decodes the kdli_common lead field.
func ParseKdliCommon(field []byte) (KdliCommon, error) {
	if len(field) < kdliCommonSize {
		return KdliCommon{}, &redo.TruncatedField{Field: "kdli_common", Want: kdliCommonSize, Have: len(field)}
	}
	r := redo.NewBinaryReader(field, redo.ByteOrder)
	op, _ := r.U8(0)
	typ, _ := r.U8(1)
	psiz, _ := r.U16(2)
	poff, _ := r.U32(4)
	dba, _ := r.Dba(8)
	return KdliCommon{Op: op, Type: typ, Psiz: psiz, Poff: poff, Dba: dba}, nil
}

// decodeKdli decodes a 26.2/26.6 vector: the kdli_common lead field followed
// by one or more sub-records, each keyed by its leading code byte. Sub-record
// kinds this engine has no use for (the page-map variants) are consumed and
// skipped rather than rejected, so a newer writer's extra bookkeeping doesn't
// abort the transaction.
func decodeKdli(v redo.ChangeVector, row *Row) error {
	lead, err := v.Field(0)
	if err != nil {
		return err
	}
	common, err := ParseKdliCommon(lead)
	if err != nil {
		return err
	}
	row.KdliOp = common.Op
	row.KdliType = common.Type
	row.LobOffset = common.Poff
	row.LobDataSize = uint32(common.Psiz)

	for i := 1; i < len(v.Fields); i++ {
		sub := v.FieldOpt(i)
		if len(sub) == 0 {
			continue
		}
		if err := decodeKdliSub(sub, row); err != nil {
			return err
		}
	}
	return nil
}

// decodeKdliSub decodes one KDLI sub-record by its code byte.
func decodeKdliSub(sub []byte, row *Row) error {
	code := sub[0]
	r := redo.NewBinaryReader(sub, redo.ByteOrder)
	switch code {
	case KdliCodeInfo:
		// code:8, pad:8, lob_id:10 bytes, page_no:32.
		if len(sub) < 16 {
			return &redo.TruncatedField{Field: "kdli_info", Want: 16, Have: len(sub)}
		}
		lobId, _ := r.LobId(2)
		pageNo, _ := r.U32(12)
		row.LobId = lobId
		row.LobPageNo = pageNo
	case KdliCodeLoadData:
		// code:8, pad:24, page bytes to end of field.
		if len(sub) < 4 {
			return &redo.TruncatedField{Field: "kdli_load_data", Want: 4, Have: len(sub)}
		}
		row.LobData = sub[4:]
		row.LobDataSize = uint32(len(sub) - 4)
	case KdliCodeZero:
		// code:8, pad:8, page_no:32, zero length:16 — a run of zero bytes
		// stored without payload.
		if len(sub) < 8 {
			return &redo.TruncatedField{Field: "kdli_zero", Want: 8, Have: len(sub)}
		}
		pageNo, _ := r.U32(2)
		zlen, _ := r.U16(6)
		row.LobPageNo = pageNo
		row.LobDataSize = uint32(zlen)
		row.LobData = nil
	case KdliCodeFill:
		// code:8, pad:8, fill offset:32, fill size:16, data to end.
		if len(sub) < 8 {
			return &redo.TruncatedField{Field: "kdli_fill", Want: 8, Have: len(sub)}
		}
		foff, _ := r.U32(2)
		fsiz, _ := r.U16(6)
		row.LobOffset = foff
		row.LobDataSize = uint32(fsiz)
		if len(sub) > 8 {
			row.LobData = sub[8:]
		}
	case KdliCodeSuplog, KdliCodeFpload:
		// Both carry the owning xid, which is how a direct-path LOB write can
		// name its transaction before any index vector does.
		if len(sub) < 12 {
			return &redo.TruncatedField{Field: "kdli_suplog", Want: 12, Have: len(sub)}
		}
		xid, _ := r.Xid(4)
		row.Xid = xid
		if code == KdliCodeFpload && len(sub) >= 16 {
			obj, _ := r.U32(12)
			row.Obj = redo.TypeObj(obj)
		}
	case KdliCodeLoadCommon, KdliCodeLmap, KdliCodeLmapx, KdliCodeGmap,
		KdliCodeLoadLhb, KdliCodeAlmap, KdliCodeAlmapx, KdliCodeLoadItree,
		KdliCodeImap, KdliCodeImapx:
		// Page-map and tree bookkeeping; nothing downstream consumes these.
	default:
		return &redo.UnknownOpcode{Layer: 26, Sub: uint16(code)}
	}
	return nil
}
