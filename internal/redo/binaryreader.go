package redo

import "encoding/binary"

// BinaryReader decodes fixed-width and Oracle-specific scalar fields out of
// a byte slice at increasing offsets, the same cursor-over-a-buffer style
// wal.WALReader uses to decode fixed WAL record payloads, generalized to the
// variable-width field tables redo vectors use.
type BinaryReader struct {
	buf   []byte
	order binary.ByteOrder
}

// NewBinaryReader wraps buf for sequential scalar reads in order.
func NewBinaryReader(buf []byte, order binary.ByteOrder) *BinaryReader {
	if order == nil {
		order = ByteOrder
	}
	return &BinaryReader{buf: buf, order: order}
}

// Len returns the length of the wrapped buffer.
func (r *BinaryReader) Len() int { return len(r.buf) }

// Bytes returns the n bytes at off without consuming anything, for callers
// that need to peek before committing to a read (e.g. field-table parsing).
func (r *BinaryReader) Bytes(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(r.buf) {
		return nil, &TruncatedField{Field: "bytes", Want: off + n, Have: len(r.buf)}
	}
	return r.buf[off : off+n], nil
}

func (r *BinaryReader) require(field string, off, n int) error {
	if off < 0 || n < 0 || off+n > len(r.buf) {
		return &TruncatedField{Field: field, Want: off + n, Have: len(r.buf)}
	}
	return nil
}

// U8 reads a single byte at off.
func (r *BinaryReader) U8(off int) (uint8, error) {
	if err := r.require("u8", off, 1); err != nil {
		return 0, err
	}
	return r.buf[off], nil
}

// U16 reads a 16-bit field at off.
func (r *BinaryReader) U16(off int) (uint16, error) {
	if err := r.require("u16", off, 2); err != nil {
		return 0, err
	}
	return r.order.Uint16(r.buf[off:]), nil
}

// U24 reads a 24-bit field at off, zero-extended to 32 bits.
func (r *BinaryReader) U24(off int) (uint32, error) {
	if err := r.require("u24", off, 3); err != nil {
		return 0, err
	}
	b := r.buf[off : off+3]
	if r.order == binary.LittleEndian {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
	}
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16, nil
}

// U32 reads a 32-bit field at off.
func (r *BinaryReader) U32(off int) (uint32, error) {
	if err := r.require("u32", off, 4); err != nil {
		return 0, err
	}
	return r.order.Uint32(r.buf[off:]), nil
}

// U48 reads a 48-bit field at off, zero-extended to 64 bits — the width
// Scn and Uba fields are wired on the wire.
func (r *BinaryReader) U48(off int) (uint64, error) {
	if err := r.require("u48", off, 6); err != nil {
		return 0, err
	}
	b := r.buf[off : off+6]
	if r.order == binary.LittleEndian {
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
			uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40, nil
	}
	return uint64(b[5]) | uint64(b[4])<<8 | uint64(b[3])<<16 |
		uint64(b[2])<<24 | uint64(b[1])<<32 | uint64(b[0])<<40, nil
}

// U56 reads a 56-bit field at off, zero-extended to 64 bits — the width a Uba
// occupies when stored as a single packed field rather than split 4+2+1.
func (r *BinaryReader) U56(off int) (uint64, error) {
	if err := r.require("u56", off, 7); err != nil {
		return 0, err
	}
	b := r.buf[off : off+7]
	if r.order == binary.LittleEndian {
		var v uint64
		for i := 6; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		return v, nil
	}
	var v uint64
	for i := 0; i < 7; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// U64 reads a 64-bit field at off.
func (r *BinaryReader) U64(off int) (uint64, error) {
	if err := r.require("u64", off, 8); err != nil {
		return 0, err
	}
	return r.order.Uint64(r.buf[off:]), nil
}

// Scn reads an Scn stored in its compact 48-bit on-disk form. Oracle
// occasionally flags the top bits of the high 16-bit word to mean "this SCN
// continues into a wrap counter"; that extension is out of scope here, as it
// is for the rest of the 48-bit-SCN-format installations this engine targets.
func (r *BinaryReader) Scn(off int) (Scn, error) {
	v, err := r.U48(off)
	if err != nil {
		return 0, err
	}
	return Scn(v), nil
}

// Uba reads a Uba from its packed 8-byte on-disk form: block:32, sequence:16,
// record:8, with one reserved/flag byte at the top that we discard.
func (r *BinaryReader) Uba(off int) (Uba, error) {
	if err := r.require("uba", off, 8); err != nil {
		return 0, err
	}
	block, _ := r.U32(off)
	sequence, _ := r.U16(off + 4)
	record, _ := r.U8(off + 6)
	return NewUba(block, sequence, record), nil
}

// Xid reads the usn:16, slt:16, sqn:32 triplet stored contiguously.
func (r *BinaryReader) Xid(off int) (Xid, error) {
	if err := r.require("xid", off, 8); err != nil {
		return 0, err
	}
	usn, _ := r.U16(off)
	slt, _ := r.U16(off + 2)
	sqn, _ := r.U32(off + 4)
	return NewXid(Usn(usn), Slt(slt), Sqn(sqn)), nil
}

// Dba reads a packed 4-byte data block address.
func (r *BinaryReader) Dba(off int) (Dba, error) {
	v, err := r.U32(off)
	if err != nil {
		return 0, err
	}
	return Dba(v), nil
}

// RowId reads the 10-byte packed on-disk ROWID: data_obj:32, dba:32, slot:16.
func (r *BinaryReader) RowId(off int) (RowId, error) {
	if err := r.require("rowid", off, 10); err != nil {
		return RowId{}, err
	}
	dataObj, _ := r.U32(off)
	dba, _ := r.Dba(off + 4)
	slot, _ := r.U16(off + 8)
	return RowId{DataObj: TypeDataObj(dataObj), Dba: dba, Slot: slot}, nil
}

// LobId reads the 10-byte opaque LOB identifier.
func (r *BinaryReader) LobId(off int) (LobId, error) {
	b, err := r.Bytes(off, 10)
	if err != nil {
		return LobId{}, err
	}
	var l LobId
	copy(l[:], b)
	return l, nil
}
