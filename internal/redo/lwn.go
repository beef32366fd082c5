package redo

import (
	"container/heap"
	"time"
)

// LwnHeaderSize is the fixed size of the 68-byte LWN ("log write number")
// group header that starts every write batch; it sits at the beginning of
// the block payload of each header-bearing block.
const LwnHeaderSize = 68

// LwnVldFullHeader is the vld bit marking a complete LWN header; a
// header-position block whose vld lacks it is unusable.
const LwnVldFullHeader = 0x04

// LwnHeader is the parsed form of the 68-byte LWN header. One logical group
// is a chain of these: every header carries the same group number and the
// group's total header count (NumMax), and Size says how many blocks until
// the next header. The group is complete once NumMax headers have been
// walked.
type LwnHeader struct {
	Vld       uint8
	Num       uint16
	NumMax    uint16
	Size      uint32
	Scn       Scn
	Timestamp time.Time
}

// ParseLwnHeader decodes an LwnHeader from the first LwnHeaderSize bytes of
// a header block's payload. Field offsets are relative to the header start:
// vld at 4, lwn number at 24, header count at 26, blocks-to-next-header at
// 28, scn at 40, timestamp at 64.
func ParseLwnHeader(buf []byte) (LwnHeader, error) {
	if len(buf) < LwnHeaderSize {
		return LwnHeader{}, &TruncatedField{Field: "lwn_header", Want: LwnHeaderSize, Have: len(buf)}
	}
	r := NewBinaryReader(buf, ByteOrder)
	vld, err := r.U8(4)
	if err != nil {
		return LwnHeader{}, err
	}
	num, err := r.U16(24)
	if err != nil {
		return LwnHeader{}, err
	}
	numMax, err := r.U16(26)
	if err != nil {
		return LwnHeader{}, err
	}
	size, err := r.U32(28)
	if err != nil {
		return LwnHeader{}, err
	}
	scn, err := r.Scn(40)
	if err != nil {
		return LwnHeader{}, err
	}
	secs, err := r.U32(64)
	if err != nil {
		return LwnHeader{}, err
	}
	return LwnHeader{
		Vld:       vld,
		Num:       num,
		NumMax:    numMax,
		Size:      size,
		Scn:       scn,
		Timestamp: oracleEpoch.Add(time.Duration(secs) * time.Second),
	}, nil
}

// oracleEpoch is the reference point Oracle's 4-byte redo timestamps count
// seconds from.
var oracleEpoch = time.Date(1988, time.January, 1, 0, 0, 0, 0, time.UTC)

// lwnKey orders records within one LWN group: by SCN first, then sub-SCN to
// break ties among changes sharing an SCN, then by physical position so that
// two records with identical (scn, sub_scn) — which does happen for
// same-transaction vectors batched together — still come out in the order
// they were written.
type lwnKey struct {
	scn    Scn
	subScn SubScn
	block  uint32
	offset uint32
}

func (a lwnKey) less(b lwnKey) bool {
	if a.scn != b.scn {
		return a.scn < b.scn
	}
	if a.subScn != b.subScn {
		return a.subScn < b.subScn
	}
	if a.block != b.block {
		return a.block < b.block
	}
	return a.offset < b.offset
}

// pendingRecord is a raw, not-yet-split record buffered for reordering
// within a group.
type pendingRecord struct {
	key  lwnKey
	data []byte
}

// recordHeap is a min-heap over pendingRecord by lwnKey, giving the
// assembler constant-time access to the next record to emit in order
// without a full sort of the (potentially large) group up front.
type recordHeap []pendingRecord

func (h recordHeap) Len() int            { return len(h) }
func (h recordHeap) Less(i, j int) bool  { return h[i].key.less(h[j].key) }
func (h recordHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *recordHeap) Push(x interface{}) { *h = append(*h, x.(pendingRecord)) }
func (h *recordHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// LwnAssembler reassembles the variable-length records of one LWN group
// from a sequence of fixed-size block payloads, reordering them into
// (scn, sub_scn, position) order as it goes. Group boundaries are driven by
// the caller's header chaining: the assembler only buffers and orders; the
// walker decides when the group's final header span has been consumed and
// the heap may be drained.
//
// Records are allowed to straddle block boundaries; the assembler carries
// the residual bytes of a split record into the next Feed call.
type LwnAssembler struct {
	header   LwnHeader
	pending  recordHeap
	carry    []byte // bytes belonging to a record split across the block boundary
	wantMore int    // bytes still needed to complete the record in carry
}

// NewLwnAssembler constructs an assembler with an empty pending group.
func NewLwnAssembler() *LwnAssembler {
	a := &LwnAssembler{}
	heap.Init(&a.pending)
	return a
}

// BeginGroup starts a new LWN group, discarding any previous one. Callers
// call this once the group's first header block has been read.
func (a *LwnAssembler) BeginGroup(h LwnHeader) {
	a.header = h
	a.pending = a.pending[:0]
	heap.Init(&a.pending)
	a.carry = nil
	a.wantMore = 0
}

// minRecordHeaderSize is the smallest legal redo record header.
const minRecordHeaderSize = 24

// Feed hands the assembler the payload bytes of one block (block frame —
// and, on header blocks, the LWN header — already stripped by the caller)
// along with the block's own offset, so record keys can use block/offset as
// the physical tiebreaker.
func (a *LwnAssembler) Feed(payload []byte, off FileOffset) error {
	pos := 0
	if a.wantMore > 0 {
		n := a.wantMore
		if n > len(payload) {
			n = len(payload)
		}
		a.carry = append(a.carry, payload[:n]...)
		a.wantMore -= n
		pos = n
		if a.wantMore == 0 {
			if err := a.commitRecord(a.carry, off, 0); err != nil {
				return err
			}
			a.carry = nil
		}
	}

	for pos+4 <= len(payload) {
		r := NewBinaryReader(payload[pos:], ByteOrder)
		length, err := r.U32(0)
		if err != nil {
			return err
		}
		if length == 0 {
			break
		}
		if length < minRecordHeaderSize {
			return &RedoFramingError{Offset: off, Reason: "record length below minimum header size"}
		}
		size4 := pad4(int(length))
		avail := len(payload) - pos
		if size4 > avail {
			a.carry = append([]byte(nil), payload[pos:]...)
			a.wantMore = size4 - avail
			pos = len(payload)
			break
		}
		if err := a.commitRecord(payload[pos:pos+size4], off, pos); err != nil {
			return err
		}
		pos += size4
	}

	return nil
}

// Pending reports whether a record is split across the last fed block and
// still awaiting its tail — true at a group boundary means the log is
// malformed.
func (a *LwnAssembler) Pending() bool { return a.wantMore > 0 }

// commitRecord queues one complete record; pos is where it ends up in the
// block that completed it (0 for a record carried over from earlier blocks).
func (a *LwnAssembler) commitRecord(data []byte, off FileOffset, pos int) error {
	r := NewBinaryReader(data, ByteOrder)
	scn, err := r.Scn(4)
	if err != nil {
		return err
	}
	subScn, err := r.U16(10)
	if err != nil {
		return err
	}
	key := lwnKey{scn: scn, subScn: SubScn(subScn), block: off.Block, offset: uint32(pos)}
	heap.Push(&a.pending, pendingRecord{key: key, data: append([]byte(nil), data...)})
	return nil
}

// Drain pops the next record in (scn, sub_scn, position) order, or returns
// ok=false once the current group is exhausted.
func (a *LwnAssembler) Drain() (data []byte, ok bool) {
	if a.pending.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&a.pending).(pendingRecord)
	return item.data, true
}

// Header returns the header of the group currently being assembled.
func (a *LwnAssembler) Header() LwnHeader { return a.header }
