package opcode

import "github.com/leengari/oracdc/internal/redo"

// Ktb is the decoded KTB redo envelope (interested-transaction-list header)
// carried by layer 10/11 vectors. Start offset into the field is 4 or 8
// bytes depending on the flg&0x08 bit, per spec.md §4.5.
type Ktb struct {
	Op            byte
	BlockCleanout bool
	Xid           redo.Xid
	Uba           redo.Uba
}

// ParseKtb decodes the KTB envelope from field.
func ParseKtb(field []byte) (Ktb, error) {
	if len(field) < 1 {
		return Ktb{}, &redo.TruncatedField{Field: "ktb_op", Want: 1, Have: len(field)}
	}
	raw := field[0]
	op := raw & KtbOpMask
	cleanout := raw&KtbBlockCleanout != 0

	start := 4
	if len(field) > 1 && field[1]&0x08 != 0 {
		start = 8
	}

	r := redo.NewBinaryReader(field, redo.ByteOrder)
	k := Ktb{Op: op, BlockCleanout: cleanout}

	switch op {
	case KtbOpF:
		if xid, err := r.Xid(start); err == nil {
			k.Xid = xid
		}
	case KtbOpL:
		if xid, err := r.Xid(start); err == nil {
			k.Xid = xid
		}
		if uba, err := r.Uba(start + 8); err == nil {
			k.Uba = uba
		}
	case KtbOpC:
		if uba, err := r.Uba(start); err == nil {
			k.Uba = uba
		}
	case KtbOpR, KtbOpZ, KtbOpN:
		// Enumerated ITL entries / no-op markers carry no single owning xid;
		// callers needing the full ITL list re-parse the field themselves.
	}
	return k, nil
}
