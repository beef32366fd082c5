// Package sink defines the downstream interfaces of the parser: the Emitter
// committed transactions flow into, and the BlockSource raw blocks flow out
// of. Reference in-memory and logging implementations live here too; real
// deployments substitute their own.
package sink

import (
	"time"

	"github.com/leengari/oracdc/internal/redo"
	"github.com/leengari/oracdc/internal/schema"
)

// OpKind classifies one emitted row operation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
	OpDdl
	OpLobWrite
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	case OpDdl:
		return "DDL"
	case OpLobWrite:
		return "LOB_WRITE"
	}
	return "UNKNOWN"
}

// Batch receives the operations of one committed transaction, in commit
// order. Implementations may buffer; FlushAndAwaitDurable on the owning
// Emitter is the durability barrier.
type Batch interface {
	// AppendRow adds one row change. before/after are the column images;
	// either may be nil depending on the operation kind. table may be nil
	// when the schema has no entry for the object.
	AppendRow(kind OpKind, before, after [][]byte, rowId redo.RowId, table *schema.Table) error
	// AppendLobPage adds one LOB page belonging to the transaction.
	AppendLobPage(lobId redo.LobId, pageNo uint32, data []byte) error
	// AppendDdl adds a DDL marker.
	AppendDdl(text string) error
}

// Emitter consumes committed transactions in commit order. Emission may be
// repeated across restarts — a transaction's commit SCN is only guaranteed
// to be at or below the last persisted checkpoint — so implementations MUST
// be idempotent per (commit_scn, xid).
type Emitter interface {
	// BeginTransaction opens the batch for one committed transaction.
	BeginTransaction(xid redo.Xid, commitScn redo.Scn, commitTimestamp time.Time, commitSeq redo.Seq) (Batch, error)
	// FlushAndAwaitDurable blocks until everything appended so far is
	// durable downstream.
	FlushAndAwaitDurable() error
	// OnCheckpoint tells the sink the parser persisted a resume point; a
	// batching sink uses lwnIdx to flush its accumulated output.
	OnCheckpoint(lwnScn redo.Scn, lwnIdx uint32, off redo.FileOffset)
}

// BlockSource is re-exported from the redo package, which is where the
// lowest consuming layer defines it.
type BlockSource = redo.BlockSource
