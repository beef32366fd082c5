package sink

import (
	"log/slog"
	"time"

	"github.com/leengari/oracdc/internal/redo"
	"github.com/leengari/oracdc/internal/schema"
)

// Row is one captured row operation in a MemoryEmitter.
type Row struct {
	Kind   OpKind
	Before [][]byte
	After  [][]byte
	RowId  redo.RowId
	Table  *schema.Table
}

// LobPage is one captured LOB page in a MemoryEmitter.
type LobPage struct {
	LobId  redo.LobId
	PageNo uint32
	Data   []byte
}

// CapturedTx is one committed transaction as a MemoryEmitter received it.
type CapturedTx struct {
	Xid             redo.Xid
	CommitScn       redo.Scn
	CommitTimestamp time.Time
	CommitSeq       redo.Seq
	Rows            []Row
	LobPages        []LobPage
	Ddl             []string
}

// MemoryEmitter records everything it receives, for tests and for the
// replay tool's dry-run mode. Single-goroutine use only, matching the
// emitter thread contract.
type MemoryEmitter struct {
	Transactions []CapturedTx
	Checkpoints  []redo.Scn
	Flushes      int
}

// NewMemoryEmitter builds an empty recorder.
func NewMemoryEmitter() *MemoryEmitter { return &MemoryEmitter{} }

type memoryBatch struct {
	e  *MemoryEmitter
	ix int
}

func (e *MemoryEmitter) BeginTransaction(xid redo.Xid, commitScn redo.Scn, commitTimestamp time.Time, commitSeq redo.Seq) (Batch, error) {
	e.Transactions = append(e.Transactions, CapturedTx{
		Xid: xid, CommitScn: commitScn, CommitTimestamp: commitTimestamp, CommitSeq: commitSeq,
	})
	return &memoryBatch{e: e, ix: len(e.Transactions) - 1}, nil
}

func (b *memoryBatch) AppendRow(kind OpKind, before, after [][]byte, rowId redo.RowId, table *schema.Table) error {
	tx := &b.e.Transactions[b.ix]
	tx.Rows = append(tx.Rows, Row{Kind: kind, Before: before, After: after, RowId: rowId, Table: table})
	return nil
}

func (b *memoryBatch) AppendLobPage(lobId redo.LobId, pageNo uint32, data []byte) error {
	tx := &b.e.Transactions[b.ix]
	tx.LobPages = append(tx.LobPages, LobPage{LobId: lobId, PageNo: pageNo, Data: data})
	return nil
}

func (b *memoryBatch) AppendDdl(text string) error {
	tx := &b.e.Transactions[b.ix]
	tx.Ddl = append(tx.Ddl, text)
	return nil
}

func (e *MemoryEmitter) FlushAndAwaitDurable() error {
	e.Flushes++
	return nil
}

func (e *MemoryEmitter) OnCheckpoint(lwnScn redo.Scn, lwnIdx uint32, off redo.FileOffset) {
	e.Checkpoints = append(e.Checkpoints, lwnScn)
}

// LogEmitter writes each operation as a structured log line; the replay
// tool's default sink.
type LogEmitter struct {
	Log *slog.Logger
}

type logBatch struct {
	log *slog.Logger
	xid redo.Xid
	scn redo.Scn
}

func (e *LogEmitter) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e *LogEmitter) BeginTransaction(xid redo.Xid, commitScn redo.Scn, commitTimestamp time.Time, commitSeq redo.Seq) (Batch, error) {
	e.logger().Info("transaction",
		"xid", xid.String(), "scn", commitScn.String(),
		"timestamp", commitTimestamp, "sequence", uint32(commitSeq))
	return &logBatch{log: e.logger(), xid: xid, scn: commitScn}, nil
}

func (b *logBatch) AppendRow(kind OpKind, before, after [][]byte, rowId redo.RowId, table *schema.Table) error {
	name := ""
	if table != nil {
		name = table.FullName()
	}
	b.log.Info("row", "xid", b.xid.String(), "op", kind.String(),
		"table", name, "rowid", rowId.String(),
		"before_cols", len(before), "after_cols", len(after))
	return nil
}

func (b *logBatch) AppendLobPage(lobId redo.LobId, pageNo uint32, data []byte) error {
	b.log.Info("lob page", "xid", b.xid.String(),
		"lob", lobId.String(), "page", pageNo, "bytes", len(data))
	return nil
}

func (b *logBatch) AppendDdl(text string) error {
	b.log.Info("ddl", "xid", b.xid.String(), "text", text)
	return nil
}

func (e *LogEmitter) FlushAndAwaitDurable() error { return nil }

func (e *LogEmitter) OnCheckpoint(lwnScn redo.Scn, lwnIdx uint32, off redo.FileOffset) {
	e.logger().Debug("checkpoint", "scn", lwnScn.String(), "lwn", lwnIdx, "block", off.Block)
}
