package opcode

import "github.com/leengari/oracdc/internal/redo"

// registerLayer10 installs the index-layer (KDX) handlers.
func registerLayer10(d *Dispatcher) {
	d.Register(OpIndexInsertLeaf, decodeIndexInsertLeaf)
	d.Register(OpIndexInitHeader, decodeIndexInitHeader)
	d.Register(OpIndexUpdateKey, decodeIndexUpdateKey)
}

// lobKeyMarker is the value a LOB index key's leading byte carries when the
// key encodes a (lob_id, page_no) pair rather than an ordinary index key.
const lobKeyMarker = 0x0A

// lobKeySize is the exact byte length a LOB index key must have to be
// eligible for the lob-id pattern check.
const lobKeySize = 16

// lobKeyTypeOffset is the byte whose value (4) confirms the key is a LOB
// page-map entry rather than another same-length key shape.
const lobKeyTypeOffset = 11

// LobKeyInfo is the (lob_id, page_no) pair recovered from an index key that
// matches the LOB key pattern.
type LobKeyInfo struct {
	LobId  redo.LobId
	PageNo uint32
}

// DetectLobKey inspects an index key field and returns the embedded
// (lob_id, page_no) pair when key matches the pattern ind_key_size==16,
// leading byte 0x0A, byte[11]==4: a 10-byte lobid at offset 1 followed by a
// 4-byte big-endian page number (§4.8 of the LOB resolution contract).
func DetectLobKey(key []byte) (LobKeyInfo, bool) {
	if len(key) != lobKeySize {
		return LobKeyInfo{}, false
	}
	if key[0] != lobKeyMarker {
		return LobKeyInfo{}, false
	}
	if key[lobKeyTypeOffset] != 4 {
		return LobKeyInfo{}, false
	}
	var lobId redo.LobId
	copy(lobId[:], key[1:11])
	pageNo := uint32(key[12])<<24 | uint32(key[13])<<16 | uint32(key[14])<<8 | uint32(key[15])
	return LobKeyInfo{LobId: lobId, PageNo: pageNo}, true
}

// kdxPrelude consumes the shared KDX layout: the KTB envelope at field 0
// (the same interested-transaction-list header the table layer carries),
// then the index key at field 1.
func kdxPrelude(v redo.ChangeVector, row *Row) []byte {
	if ktbField := v.FieldOpt(0); ktbField != nil {
		if ktb, err := ParseKtb(ktbField); err == nil {
			row.KtbOp = ktb.Op
			row.KtbBlockCleanout = ktb.BlockCleanout
			row.KtbXid = ktb.Xid
			row.KtbUba = ktb.Uba
			if ktb.Xid != redo.ZeroXid {
				row.Xid = ktb.Xid
			}
		}
	}
	return v.FieldOpt(1)
}

// decodeIndexInsertLeaf decodes a 10.2 vector: the index key and its
// associated data, checking whether the key is in fact a LOB page-map entry.
func decodeIndexInsertLeaf(v redo.ChangeVector, row *Row) error {
	key := kdxPrelude(v, row)
	if key == nil {
		return &redo.TruncatedField{Field: "ind_key", Want: 2, Have: len(v.Fields)}
	}
	if info, ok := DetectLobKey(key); ok {
		row.LobId = info.LobId
		row.LobPageNo = info.PageNo
	}
	if data := v.FieldOpt(2); data != nil {
		row.SuppLogCols = append(row.SuppLogCols, data)
	}
	return nil
}

// decodeIndexInitHeader decodes a 10.8 vector: index block header init,
// recognizing the same LOB key pattern when a key rides along.
func decodeIndexInitHeader(v redo.ChangeVector, row *Row) error {
	if key := kdxPrelude(v, row); key != nil {
		if info, ok := DetectLobKey(key); ok {
			row.LobId = info.LobId
			row.LobPageNo = info.PageNo
		}
	}
	return nil
}

// decodeIndexUpdateKey decodes a 10.18 vector: update key data in row.
func decodeIndexUpdateKey(v redo.ChangeVector, row *Row) error {
	key := kdxPrelude(v, row)
	if key == nil {
		return &redo.TruncatedField{Field: "ind_key", Want: 2, Have: len(v.Fields)}
	}
	if info, ok := DetectLobKey(key); ok {
		row.LobId = info.LobId
		row.LobPageNo = info.PageNo
	}
	return nil
}
