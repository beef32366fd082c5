// Package txn reconstructs transactions from decoded change vectors: the
// arena-backed transaction buffer, the per-transaction operation list, the
// LOB page store, and the vector-pairing state machine that groups a
// record's vectors into operations.
package txn

import (
	"time"

	"github.com/leengari/oracdc/internal/filterexpr"
	"github.com/leengari/oracdc/internal/opcode"
	"github.com/leengari/oracdc/internal/redo"
)

// Entry is one reconstructed operation in a transaction: the data/index/LOB
// vector that changed something, optionally paired with the 5.1 undo header
// that named the owning transaction and the before-image.
type Entry struct {
	Op      opcode.Op
	UndoOp  opcode.Op
	Redo    opcode.Row
	Undo    opcode.Row
	HasUndo bool
	Scn     redo.Scn
	SubScn  redo.SubScn
	size    uint64
}

// entrySize approximates the memory an entry pins: the fixed bookkeeping
// plus every byte slice the rows reference out of the record arena.
func entrySize(e *Entry) uint64 {
	const fixed = 256
	size := uint64(fixed)
	size += uint64(len(e.Redo.LobData)) + uint64(len(e.Undo.LobData))
	for _, c := range e.Redo.SuppLogCols {
		size += uint64(len(c))
	}
	for _, c := range e.Undo.SuppLogCols {
		size += uint64(len(c))
	}
	return size
}

// rowsPerChunk is how many entries one arena chunk holds. Chunks are the
// unit the global pool hands out and takes back, so a transaction's memory
// is returned wholesale on release rather than entry by entry.
const rowsPerChunk = 256

// rowChunk is one fixed-capacity block of entries drawn from the pool.
type rowChunk struct {
	rows [rowsPerChunk]Entry
	used int
}

// Transaction is the ordered list of operations reconstructed for one xid,
// plus its commit metadata and LOB pages. Entries live in pool-owned chunks;
// Release hands them back.
type Transaction struct {
	Xid     redo.Xid
	ConId   uint16
	Begin   bool
	Rollback bool

	CommitScn       redo.Scn
	CommitSubScn    redo.SubScn
	CommitTimestamp time.Time
	CommitSeq       redo.Seq

	FirstSeq    redo.Seq
	FirstOffset redo.FileOffset

	System   bool
	Schema   bool
	Shutdown bool

	Attributes filterexpr.AttributeMap

	Lobs *LobCtx

	chunks []*rowChunk
	size   uint64
	pool   *ChunkPool
}

// Size returns the approximate bytes of record data the transaction holds.
func (t *Transaction) Size() uint64 { return t.size }

// OpCount returns the number of operations currently appended.
func (t *Transaction) OpCount() int {
	n := 0
	for _, c := range t.chunks {
		n += c.used
	}
	return n
}

// Add appends one operation. It returns the transaction's new size so the
// buffer can enforce its size ceiling.
func (t *Transaction) Add(e Entry) uint64 {
	e.size = entrySize(&e)
	if len(t.chunks) == 0 || t.chunks[len(t.chunks)-1].used == rowsPerChunk {
		t.chunks = append(t.chunks, t.pool.Get())
	}
	c := t.chunks[len(t.chunks)-1]
	c.rows[c.used] = e
	c.used++
	t.size += e.size
	return t.size
}

// Ops walks the operations in insertion order.
func (t *Transaction) Ops(fn func(e *Entry) bool) {
	for _, c := range t.chunks {
		for i := 0; i < c.used; i++ {
			if !fn(&c.rows[i]) {
				return
			}
		}
	}
}

// RollbackLastOp scans from the tail for the newest entry matching
// (bdba, slot) and removes it; entries after the match slide down one,
// across chunk boundaries where needed. It reports whether a match was
// found; a miss is the caller's cue to log and ignore, per the partial
// rollback contract.
func (t *Transaction) RollbackLastOp(bdba redo.Dba, slot uint16) bool {
	for ci := len(t.chunks) - 1; ci >= 0; ci-- {
		c := t.chunks[ci]
		for ri := c.used - 1; ri >= 0; ri-- {
			e := &c.rows[ri]
			if e.Redo.Bdba != bdba || e.Redo.Slot != slot {
				continue
			}
			t.size -= e.size
			t.removeAt(ci, ri)
			return true
		}
	}
	return false
}

// removeAt deletes the entry at (chunk ci, row ri), compacting the tail of
// the transaction across chunk boundaries and releasing a chunk that
// empties.
func (t *Transaction) removeAt(ci, ri int) {
	for {
		c := t.chunks[ci]
		copy(c.rows[ri:c.used-1], c.rows[ri+1:c.used])
		if ci == len(t.chunks)-1 {
			c.used--
			c.rows[c.used] = Entry{}
			break
		}
		next := t.chunks[ci+1]
		c.rows[c.used-1] = next.rows[0]
		ci, ri = ci+1, 0
	}
	if last := t.chunks[len(t.chunks)-1]; last.used == 0 {
		t.pool.Put(last)
		t.chunks = t.chunks[:len(t.chunks)-1]
	}
}

// release returns every chunk to the pool. Called by the buffer, never
// directly by parser code.
func (t *Transaction) release() {
	for _, c := range t.chunks {
		t.pool.Put(c)
	}
	t.chunks = nil
	t.size = 0
}

// Attribute records one session attribute, creating the map lazily; most
// transactions never carry any.
func (t *Transaction) Attribute(key filterexpr.AttrKey, val string) {
	if t.Attributes == nil {
		t.Attributes = make(filterexpr.AttributeMap)
	}
	t.Attributes[key] = val
}
