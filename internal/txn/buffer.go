package txn

import (
	"log/slog"
	"sync"

	"github.com/leengari/oracdc/internal/redo"
)

// ChunkPool is the global arena pool transactions draw their entry chunks
// from. Acquisition is O(1) behind a mutex; the pool grows on demand and
// keeps returned chunks for reuse so steady-state parsing allocates nothing
// per transaction.
type ChunkPool struct {
	mu   sync.Mutex
	free []*rowChunk
}

// NewChunkPool builds a pool pre-seeded with n chunks.
func NewChunkPool(n int) *ChunkPool {
	p := &ChunkPool{free: make([]*rowChunk, 0, n)}
	for i := 0; i < n; i++ {
		p.free = append(p.free, &rowChunk{})
	}
	return p
}

// Get hands out a chunk, allocating if the free list is empty.
func (p *ChunkPool) Get() *rowChunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free = p.free[:n-1]
		return c
	}
	return &rowChunk{}
}

// Put returns a chunk to the free list.
func (p *ChunkPool) Put(c *rowChunk) {
	c.used = 0
	p.mu.Lock()
	p.free = append(p.free, c)
	p.mu.Unlock()
}

// xidMap keys the transaction map: the (usn, slt) half of the xid plus the
// container id. Rollback vectors reference transactions without the sqn, so
// the sqn stays out of the key; lookups match on (usn, slt, con_id) alone
// and do not compare the sqn of the stored transaction.
type xidMap uint64

func makeXidMap(xid redo.Xid, conId uint16) xidMap {
	return xidMap(uint64(xid.Trunc48()) | uint64(conId)<<32)
}

// Config carries the operator knobs the transaction layer honors.
type Config struct {
	// TransactionSizeMax drops transactions whose buffered size exceeds the
	// ceiling; 0 means unbounded.
	TransactionSizeMax uint64
	// ShowIncompleteTransactions admits transactions first seen mid-log
	// (no 5.2 observed) instead of discarding their vectors.
	ShowIncompleteTransactions bool
	// OrphanLobMax caps the bytes of LOB pages buffered while their owning
	// transaction is still unknown; 0 means unbounded.
	OrphanLobMax uint64
	// IgnoreDataErrors degrades data-level decode errors to warnings.
	IgnoreDataErrors bool
}

// TxBuffer owns every in-flight transaction between its begin and its
// commit: the xid-keyed map, the skip list for oversized transactions, the
// broken-xid warn-once set, and the LOB orphan store.
type TxBuffer struct {
	cfg  Config
	pool *ChunkPool
	log  *slog.Logger

	txs    map[xidMap]*Transaction
	skip   map[xidMap]struct{}
	broken map[uint32]struct{}

	lobXid  map[redo.LobId]redo.Xid
	orphans map[redo.LobId][]orphanPage
	orphanSize uint64
}

type orphanPage struct {
	pageNo uint32
	data   []byte
}

// NewTxBuffer builds a buffer over pool. A nil logger falls back to the
// process default.
func NewTxBuffer(cfg Config, pool *ChunkPool, log *slog.Logger) *TxBuffer {
	if log == nil {
		log = slog.Default()
	}
	return &TxBuffer{
		cfg:     cfg,
		pool:    pool,
		log:     log,
		txs:     make(map[xidMap]*Transaction),
		skip:    make(map[xidMap]struct{}),
		broken:  make(map[uint32]struct{}),
		lobXid:  make(map[redo.LobId]redo.Xid),
		orphans: make(map[redo.LobId][]orphanPage),
	}
}

// Config returns the buffer's configuration.
func (b *TxBuffer) Config() Config { return b.cfg }

// Begin creates the transaction for a 5.2 vector. An existing entry for the
// same (usn, slt, con) is replaced; Oracle reuses slots, so a leftover entry
// means its commit record was never seen.
func (b *TxBuffer) Begin(xid redo.Xid, conId uint16, seq redo.Seq, off redo.FileOffset) *Transaction {
	key := makeXidMap(xid, conId)
	if old, ok := b.txs[key]; ok {
		b.log.Warn("transaction slot reused before commit; dropping predecessor",
			"xid", old.Xid.String())
		old.release()
	}
	tx := &Transaction{
		Xid: xid, ConId: conId, Begin: true,
		FirstSeq: seq, FirstOffset: off,
		Lobs: NewLobCtx(), pool: b.pool,
	}
	b.txs[key] = tx
	return tx
}

// Find returns the transaction for xid, creating it when create is set and
// the policy admits transactions first seen mid-log. The second result is
// false when the xid is on the skip list or unknown and not creatable.
func (b *TxBuffer) Find(xid redo.Xid, conId uint16, seq redo.Seq, off redo.FileOffset, create bool) (*Transaction, bool) {
	key := makeXidMap(xid, conId)
	if _, skipped := b.skip[key]; skipped {
		return nil, false
	}
	if tx, ok := b.txs[key]; ok {
		return tx, true
	}
	if !create || !b.cfg.ShowIncompleteTransactions {
		return nil, false
	}
	tx := &Transaction{
		Xid: xid, ConId: conId,
		FirstSeq: seq, FirstOffset: off,
		Lobs: NewLobCtx(), pool: b.pool,
	}
	b.txs[key] = tx
	return tx, true
}

// Append adds e to tx, enforcing the transaction size ceiling: on overflow
// the transaction is dropped wholesale, its xid goes on the skip list, and
// the caller sees false.
func (b *TxBuffer) Append(tx *Transaction, e Entry) bool {
	if size := tx.Add(e); b.cfg.TransactionSizeMax > 0 && size > b.cfg.TransactionSizeMax {
		b.log.Warn("skipping transaction over size limit",
			"xid", tx.Xid.String(), "size", size, "limit", b.cfg.TransactionSizeMax)
		b.Skip(tx)
		return false
	}
	return true
}

// Skip drops tx and bars its xid until Forget is called at the next commit
// record for it.
func (b *TxBuffer) Skip(tx *Transaction) {
	key := makeXidMap(tx.Xid, tx.ConId)
	b.skip[key] = struct{}{}
	tx.release()
	delete(b.txs, key)
}

// Skipped reports whether vectors for xid are currently being discarded.
func (b *TxBuffer) Skipped(xid redo.Xid, conId uint16) bool {
	_, ok := b.skip[makeXidMap(xid, conId)]
	return ok
}

// Forget clears the skip entry for xid; called when its 5.4 arrives, after
// which the slot may be legitimately reused by a new transaction.
func (b *TxBuffer) Forget(xid redo.Xid, conId uint16) {
	delete(b.skip, makeXidMap(xid, conId))
}

// Take removes tx from the live map without releasing its chunks — the
// caller owns it until Release. Used on commit, when the transaction leaves
// the buffer for the emitter.
func (b *TxBuffer) Take(tx *Transaction) {
	delete(b.txs, makeXidMap(tx.Xid, tx.ConId))
	for lobId, xid := range b.lobXid {
		if xid == tx.Xid {
			delete(b.lobXid, lobId)
		}
	}
}

// Release returns a taken (or abandoned) transaction's chunks to the pool.
func (b *TxBuffer) Release(tx *Transaction) {
	tx.release()
}

// BrokenXid records a rollback vector that matched no live transaction and
// reports whether this (usn, slt) is being seen broken for the first time,
// so the warning is emitted once rather than per vector.
func (b *TxBuffer) BrokenXid(xid redo.Xid) bool {
	key := xid.Trunc48()
	if _, ok := b.broken[key]; ok {
		return false
	}
	b.broken[key] = struct{}{}
	return true
}

// Live walks the in-flight transactions; used by the checkpoint coordinator
// to compute the minimum restart position. Skip-listed transactions are not
// in the map and therefore naturally excluded.
func (b *TxBuffer) Live(fn func(tx *Transaction) bool) {
	for _, tx := range b.txs {
		if !fn(tx) {
			return
		}
	}
}

// SetLobXid records the lob_id → xid mapping discovered from an index
// vector, flushing any orphan pages buffered for that lob into the owning
// transaction's LobCtx.
func (b *TxBuffer) SetLobXid(lobId redo.LobId, xid redo.Xid, conId uint16) {
	b.lobXid[lobId] = xid
	pages, ok := b.orphans[lobId]
	if !ok {
		return
	}
	tx, found := b.txs[makeXidMap(xid, conId)]
	if !found {
		return
	}
	for _, p := range pages {
		tx.Lobs.AddPage(lobId, p.pageNo, p.data)
		b.orphanSize -= uint64(len(p.data))
	}
	delete(b.orphans, lobId)
}

// LobXid resolves the transaction a LOB data vector belongs to, when an
// index vector has already revealed it.
func (b *TxBuffer) LobXid(lobId redo.LobId) (redo.Xid, bool) {
	xid, ok := b.lobXid[lobId]
	return xid, ok
}

// AddOrphanLobPage buffers a LOB page whose owning transaction is still
// unknown. Pages beyond the orphan memory cap are dropped with a warning
// rather than growing without bound.
func (b *TxBuffer) AddOrphanLobPage(lobId redo.LobId, pageNo uint32, data []byte) {
	if b.cfg.OrphanLobMax > 0 && b.orphanSize+uint64(len(data)) > b.cfg.OrphanLobMax {
		b.log.Warn("dropping orphan LOB page over memory cap",
			"lob", lobId.String(), "page", pageNo)
		return
	}
	b.orphans[lobId] = append(b.orphans[lobId], orphanPage{pageNo: pageNo, data: data})
	b.orphanSize += uint64(len(data))
}

// OrphanLobBytes returns the bytes currently held for unresolved LOB pages.
func (b *TxBuffer) OrphanLobBytes() uint64 { return b.orphanSize }
