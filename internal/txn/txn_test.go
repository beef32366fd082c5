package txn

import (
	"encoding/binary"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/leengari/oracdc/internal/filterexpr"
	"github.com/leengari/oracdc/internal/opcode"
	"github.com/leengari/oracdc/internal/redo"
	"github.com/leengari/oracdc/internal/schema"
)

func xidBytes(x redo.Xid) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], uint16(x.Usn()))
	binary.LittleEndian.PutUint16(b[2:4], uint16(x.Slt()))
	binary.LittleEndian.PutUint32(b[4:8], uint32(x.Sqn()))
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func ktbF(x redo.Xid) []byte {
	b := make([]byte, 12)
	b[0] = opcode.KtbOpF
	copy(b[4:], xidBytes(x))
	return b
}

func kdoHeader(slot uint16, fb, cc uint8) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], slot)
	b[2] = fb
	b[3] = cc
	return b
}

func beginVec(x redo.Xid) redo.ChangeVector {
	return redo.ChangeVector{Layer: 5, Sub: 2, Fields: [][]byte{xidBytes(x)}}
}

func commitVec(x redo.Xid, rollback bool) redo.ChangeVector {
	v := redo.ChangeVector{Layer: 5, Sub: 4, Fields: [][]byte{xidBytes(x)}}
	if rollback {
		v.FlgRecord = opcode.FlgRollbackOp0504
	}
	return v
}

func undoVec(x redo.Xid, obj uint32) redo.ChangeVector {
	return redo.ChangeVector{Layer: 5, Sub: 1, Fields: [][]byte{le32(obj), le32(obj + 1), ktbF(x)}}
}

func insertVec(x redo.Xid, dba redo.Dba, slot uint16, cols ...[]byte) redo.ChangeVector {
	fields := [][]byte{ktbF(x), kdoHeader(slot, opcode.FbF|opcode.FbL|opcode.FbH, uint8(len(cols))), {0x00}}
	fields = append(fields, cols...)
	return redo.ChangeVector{Layer: 11, Sub: 2, Typ: opcode.KdoIRP, Dba: dba, Fields: fields}
}

func rollbackVec() redo.ChangeVector {
	return redo.ChangeVector{Layer: 5, Sub: 6, Fields: [][]byte{}}
}

func record(scn redo.Scn, subScn redo.SubScn, vectors ...redo.ChangeVector) redo.RedoLogRecord {
	return redo.RedoLogRecord{
		Header:  redo.RecordHeader{Scn: scn, SubScn: subScn, VectorSize: uint16(len(vectors))},
		Vectors: vectors,
	}
}

func newProcessor(cfg Config) *Processor {
	buf := NewTxBuffer(cfg, NewChunkPool(4), nil)
	return NewProcessor(buf, opcode.NewDispatcher(), nil, nil, nil)
}

func TestSingleInsertCommit(t *testing.T) {
	p := newProcessor(Config{})
	xid := redo.NewXid(1, 2, 3)
	now := time.Now()

	committed, err := p.ProcessRecord(record(0x1F0, 0, beginVec(xid)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 0)

	committed, err = p.ProcessRecord(record(0x1F2, 0,
		undoVec(xid, 100), insertVec(xid, redo.NewDba(1, 50), 4, []byte("val"))), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 0)

	committed, err = p.ProcessRecord(record(0x1F4, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 1)

	tx := committed[0]
	assert.Equal(t, tx.Xid, xid)
	assert.Equal(t, tx.CommitScn, redo.Scn(0x1F4))
	assert.Assert(t, tx.Begin)
	assert.Assert(t, !tx.Rollback)
	assert.Equal(t, tx.OpCount(), 1)
	tx.Ops(func(e *Entry) bool {
		assert.Equal(t, e.Op, opcode.Op{Layer: 11, Sub: 2})
		assert.Assert(t, e.HasUndo)
		assert.Equal(t, e.Redo.KdoOp, opcode.KdoIRP)
		return true
	})
	p.Buffer().Release(tx)
}

func TestPartialRollbackRemovesLastOp(t *testing.T) {
	p := newProcessor(Config{})
	xid := redo.NewXid(1, 2, 3)
	now := time.Now()
	dba := redo.NewDba(1, 50)

	_, err := p.ProcessRecord(record(10, 0, beginVec(xid)), now)
	assert.NilError(t, err)

	_, err = p.ProcessRecord(record(11, 0,
		undoVec(xid, 100), insertVec(xid, dba, 4, []byte("v"))), now)
	assert.NilError(t, err)

	// The rollback record carries the data vector first, then the 5.6.
	_, err = p.ProcessRecord(record(12, 0, insertVec(xid, dba, 4), rollbackVec()), now)
	assert.NilError(t, err)

	committed, err := p.ProcessRecord(record(13, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 1)
	assert.Equal(t, committed[0].OpCount(), 0)
	p.Buffer().Release(committed[0])
}

func TestRollbackInterleaving(t *testing.T) {
	// N data ops then K rollbacks leaves N-K ops in order.
	const n, k = 5, 3
	p := newProcessor(Config{})
	xid := redo.NewXid(1, 2, 3)
	now := time.Now()

	_, err := p.ProcessRecord(record(10, 0, beginVec(xid)), now)
	assert.NilError(t, err)

	for i := 0; i < n; i++ {
		_, err = p.ProcessRecord(record(redo.Scn(11+i), 0,
			undoVec(xid, 100), insertVec(xid, redo.NewDba(1, uint32(50+i)), uint16(i))), now)
		assert.NilError(t, err)
	}
	for i := n - 1; i >= n-k; i-- {
		_, err = p.ProcessRecord(record(redo.Scn(20+i), 0,
			insertVec(xid, redo.NewDba(1, uint32(50+i)), uint16(i)), rollbackVec()), now)
		assert.NilError(t, err)
	}

	committed, err := p.ProcessRecord(record(30, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 1)
	tx := committed[0]
	assert.Equal(t, tx.OpCount(), n-k)
	i := 0
	tx.Ops(func(e *Entry) bool {
		assert.Equal(t, e.Redo.Slot, uint16(i))
		i++
		return true
	})
	p.Buffer().Release(tx)
}

func TestRolledBackTransactionNotEmitted(t *testing.T) {
	p := newProcessor(Config{})
	xid := redo.NewXid(1, 2, 3)
	now := time.Now()

	_, err := p.ProcessRecord(record(10, 0, beginVec(xid)), now)
	assert.NilError(t, err)
	_, err = p.ProcessRecord(record(11, 0,
		undoVec(xid, 100), insertVec(xid, redo.NewDba(1, 50), 0)), now)
	assert.NilError(t, err)

	committed, err := p.ProcessRecord(record(12, 0, commitVec(xid, true)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 0)
}

func TestSkipOverSizeLimit(t *testing.T) {
	p := newProcessor(Config{TransactionSizeMax: 1024})
	xid := redo.NewXid(1, 2, 3)
	now := time.Now()

	_, err := p.ProcessRecord(record(10, 0, beginVec(xid)), now)
	assert.NilError(t, err)

	// Each entry costs at least its fixed overhead; a handful crosses 1024.
	for i := 0; i < 8; i++ {
		_, err = p.ProcessRecord(record(redo.Scn(11+i), 0,
			undoVec(xid, 100),
			insertVec(xid, redo.NewDba(1, uint32(50+i)), uint16(i), make([]byte, 200))), now)
		assert.NilError(t, err)
	}
	assert.Assert(t, p.Buffer().Skipped(xid, 0))

	// The commit yields nothing and clears the skip entry.
	committed, err := p.ProcessRecord(record(30, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 0)
	assert.Assert(t, !p.Buffer().Skipped(xid, 0))
}

func TestUnknownOpcodeIgnoredUnderFlag(t *testing.T) {
	p := newProcessor(Config{IgnoreDataErrors: true})
	xid := redo.NewXid(1, 2, 3)
	now := time.Now()

	_, err := p.ProcessRecord(record(10, 0, beginVec(xid)), now)
	assert.NilError(t, err)

	bogus := redo.ChangeVector{Layer: 0xFE, Sub: 0xFE}
	_, err = p.ProcessRecord(record(11, 0,
		undoVec(xid, 100), insertVec(xid, redo.NewDba(1, 50), 0), bogus), now)
	assert.NilError(t, err)
	assert.ErrorContains(t, p.TakeSoftErrors(), "unknown opcode")
	assert.NilError(t, p.TakeSoftErrors())

	committed, err := p.ProcessRecord(record(12, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 1)
	assert.Equal(t, committed[0].OpCount(), 1)
	p.Buffer().Release(committed[0])
}

func TestUnknownOpcodeFatalWithoutFlag(t *testing.T) {
	p := newProcessor(Config{})
	now := time.Now()
	bogus := redo.ChangeVector{Layer: 0xFE, Sub: 0xFE}
	_, err := p.ProcessRecord(record(11, 0, bogus), now)
	assert.ErrorContains(t, err, "unknown opcode")
}

func lobId(b byte) redo.LobId {
	var id redo.LobId
	for i := range id {
		id[i] = b
	}
	return id
}

func lobIndexVec(x redo.Xid, id redo.LobId, pageNo uint32) redo.ChangeVector {
	key := make([]byte, 16)
	key[0] = 0x0A
	copy(key[1:11], id[:])
	key[11] = 4
	binary.BigEndian.PutUint32(key[12:16], pageNo)
	return redo.ChangeVector{Layer: 10, Sub: 8, Fields: [][]byte{ktbF(x), key}}
}

func lobDataVec(id redo.LobId, pageNo uint32, data []byte) redo.ChangeVector {
	hdr := make([]byte, 36)
	copy(hdr[8:18], id[:])
	binary.LittleEndian.PutUint32(hdr[20:24], pageNo)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(len(data)))
	return redo.ChangeVector{Layer: 19, Sub: 1, Fields: [][]byte{hdr, data}}
}

func TestLobStitchingOrphansThenIndex(t *testing.T) {
	// M pages arrive before the index vector reveals the xid, P after; the
	// committed transaction exposes all M+P pages in page order.
	p := newProcessor(Config{})
	xid := redo.NewXid(1, 2, 3)
	id := lobId(0xAB)
	now := time.Now()

	_, err := p.ProcessRecord(record(10, 0, beginVec(xid)), now)
	assert.NilError(t, err)

	// Orphans: pages 2 and 0 before anyone knows the xid.
	_, err = p.ProcessRecord(record(11, 0, lobDataVec(id, 2, []byte("page2"))), now)
	assert.NilError(t, err)
	_, err = p.ProcessRecord(record(12, 0, lobDataVec(id, 0, []byte("page0"))), now)
	assert.NilError(t, err)
	assert.Assert(t, p.Buffer().OrphanLobBytes() > 0)

	// The index vector maps lob -> xid and flushes the orphans.
	_, err = p.ProcessRecord(record(13, 0, lobIndexVec(xid, id, 0)), now)
	assert.NilError(t, err)
	assert.Equal(t, p.Buffer().OrphanLobBytes(), uint64(0))

	// A late page finds the mapping directly.
	_, err = p.ProcessRecord(record(14, 0, lobDataVec(id, 1, []byte("page1"))), now)
	assert.NilError(t, err)

	committed, err := p.ProcessRecord(record(15, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 1)
	pages := committed[0].Lobs.Pages(id)
	assert.Equal(t, len(pages), 3)
	for i, pg := range pages {
		assert.Equal(t, pg.PageNo, uint32(i))
	}
	assert.DeepEqual(t, pages[1].Data, []byte("page1"))
	p.Buffer().Release(committed[0])
}

func TestOrphanLobMemoryCap(t *testing.T) {
	p := newProcessor(Config{OrphanLobMax: 8})
	now := time.Now()
	_, err := p.ProcessRecord(record(11, 0, lobDataVec(lobId(1), 0, []byte("12345678"))), now)
	assert.NilError(t, err)
	// Next page would exceed the cap and is dropped.
	_, err = p.ProcessRecord(record(12, 0, lobDataVec(lobId(2), 0, []byte("x"))), now)
	assert.NilError(t, err)
	assert.Equal(t, p.Buffer().OrphanLobBytes(), uint64(8))
}

func TestBrokenXidWarnsOnce(t *testing.T) {
	buf := NewTxBuffer(Config{}, NewChunkPool(1), nil)
	xid := redo.NewXid(7, 8, 9)
	assert.Assert(t, buf.BrokenXid(xid))
	assert.Assert(t, !buf.BrokenXid(xid))
	// A different sqn still maps to the same (usn, slt) key.
	assert.Assert(t, !buf.BrokenXid(redo.NewXid(7, 8, 10)))
}

func TestSessionAttributes(t *testing.T) {
	p := newProcessor(Config{})
	xid := redo.NewXid(1, 2, 3)
	now := time.Now()

	_, err := p.ProcessRecord(record(10, 0, beginVec(xid)), now)
	assert.NilError(t, err)

	key := make([]byte, 2)
	binary.LittleEndian.PutUint16(key, 7) // os_user_name
	attrVec := redo.ChangeVector{Layer: 5, Sub: 19, Fields: [][]byte{key, []byte("batch")}}
	_, err = p.ProcessRecord(record(11, 0, attrVec), now)
	assert.NilError(t, err)

	committed, err := p.ProcessRecord(record(12, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 1)
	assert.Equal(t, committed[0].Attributes[filterexpr.AttrOsUserName], "batch")
	p.Buffer().Release(committed[0])
}

func TestMultiBlockUndoStandalone(t *testing.T) {
	p := newProcessor(Config{})
	xid := redo.NewXid(1, 2, 3)
	now := time.Now()

	_, err := p.ProcessRecord(record(10, 0, beginVec(xid)), now)
	assert.NilError(t, err)

	// Head rides alone in its record; the tail pairs with the delete.
	head := undoVec(xid, 100)
	head.FlgRecord = opcode.FlgMultiBlockUndoHead
	_, err = p.ProcessRecord(record(11, 0, head), now)
	assert.NilError(t, err)

	tail := undoVec(xid, 100)
	tail.FlgRecord = opcode.FlgMultiBlockUndoTail
	del := insertVec(xid, redo.NewDba(1, 50), 0)
	del.Typ = opcode.KdoDRP
	_, err = p.ProcessRecord(record(12, 0, tail, del), now)
	assert.NilError(t, err)

	committed, err := p.ProcessRecord(record(13, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 1)
	tx := committed[0]
	assert.Equal(t, tx.OpCount(), 2)
	var ops []opcode.Op
	tx.Ops(func(e *Entry) bool {
		ops = append(ops, e.Op)
		return true
	})
	assert.Equal(t, ops[0], opcode.OpUndoHeader)
	assert.Equal(t, ops[1], opcode.Op{Layer: 11, Sub: 2})
	assert.Equal(t, tx.chunks[0].rows[1].Redo.KdoOp, opcode.KdoDRP)
	p.Buffer().Release(tx)
}

func TestDDLFilteredBySchema(t *testing.T) {
	view := schema.NewMemory()
	view.AddTable(&schema.Table{Obj: 500, Owner: "SCOTT", Name: "T"})
	view.AddTable(&schema.Table{Obj: 501, Owner: "SYS", Name: "OBJ$", Options: schema.OptionSystem})

	buf := NewTxBuffer(Config{}, NewChunkPool(1), nil)
	p := NewProcessor(buf, opcode.NewDispatcher(), view, nil, nil)
	xid := redo.NewXid(1, 2, 3)
	now := time.Now()

	_, err := p.ProcessRecord(record(10, 0, beginVec(xid)), now)
	assert.NilError(t, err)

	ddl := func(obj uint32) redo.ChangeVector {
		return redo.ChangeVector{Layer: 24, Sub: 1, Fields: [][]byte{
			append(le32(obj), le32(obj+1)...), []byte("TRUNCATE TABLE t"),
		}}
	}
	_, err = p.ProcessRecord(record(11, 0, ddl(500)), now)
	assert.NilError(t, err)
	_, err = p.ProcessRecord(record(12, 0, ddl(501)), now) // system: dropped
	assert.NilError(t, err)
	_, err = p.ProcessRecord(record(13, 0, ddl(999)), now) // unknown: dropped
	assert.NilError(t, err)

	committed, err := p.ProcessRecord(record(14, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 1)
	assert.Equal(t, committed[0].OpCount(), 1)
	p.Buffer().Release(committed[0])
}

func TestShowIncompleteTransactions(t *testing.T) {
	// A data vector for a transaction whose 5.2 predates the log is dropped
	// by default and admitted under the policy flag.
	xid := redo.NewXid(1, 2, 3)
	now := time.Now()

	p := newProcessor(Config{})
	_, err := p.ProcessRecord(record(11, 0,
		undoVec(xid, 100), insertVec(xid, redo.NewDba(1, 50), 0)), now)
	assert.NilError(t, err)
	committed, err := p.ProcessRecord(record(12, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 0)

	p = newProcessor(Config{ShowIncompleteTransactions: true})
	_, err = p.ProcessRecord(record(11, 0,
		undoVec(xid, 100), insertVec(xid, redo.NewDba(1, 50), 0)), now)
	assert.NilError(t, err)
	committed, err = p.ProcessRecord(record(12, 0, commitVec(xid, false)), now)
	assert.NilError(t, err)
	assert.Equal(t, len(committed), 1)
	tx := committed[0]
	assert.Assert(t, !tx.Begin)
	assert.Equal(t, tx.OpCount(), 1)
	p.Buffer().Release(tx)
}

func TestChunkPoolReuse(t *testing.T) {
	pool := NewChunkPool(2)
	c1 := pool.Get()
	c1.used = 7
	pool.Put(c1)
	c2 := pool.Get()
	assert.Equal(t, c2.used, 0)
}

func TestTransactionSpansChunks(t *testing.T) {
	pool := NewChunkPool(1)
	tx := &Transaction{pool: pool, Lobs: NewLobCtx()}
	for i := 0; i < rowsPerChunk+10; i++ {
		tx.Add(Entry{Redo: opcode.Row{Slot: uint16(i)}})
	}
	assert.Equal(t, tx.OpCount(), rowsPerChunk+10)
	assert.Equal(t, len(tx.chunks), 2)

	// Removing an entry in the first chunk pulls the tail across the
	// boundary and keeps order.
	assert.Assert(t, tx.RollbackLastOp(0, 3))
	assert.Equal(t, tx.OpCount(), rowsPerChunk+9)
	prev := -1
	tx.Ops(func(e *Entry) bool {
		cur := int(e.Redo.Slot)
		assert.Assert(t, cur > prev)
		prev = cur
		return true
	})
	tx.release()
	assert.Equal(t, len(tx.chunks), 0)
}
