package core

import (
	"context"

	"github.com/leengari/oracdc/internal/opcode"
	"github.com/leengari/oracdc/internal/redo"
	"github.com/leengari/oracdc/internal/schema"
	"github.com/leengari/oracdc/internal/sink"
	"github.com/leengari/oracdc/internal/txn"
)

// opKindFor maps a KDO sub-operation to the emitted operation kind. Index
// maintenance, locks, and the other bookkeeping sub-ops produce no row.
func opKindFor(e *txn.Entry) (sink.OpKind, bool) {
	switch e.Op.Layer {
	case 24:
		return sink.OpDdl, true
	case 11:
	default:
		return 0, false
	}
	switch e.Redo.KdoOp {
	case opcode.KdoIRP, opcode.KdoQMI:
		return sink.OpInsert, true
	case opcode.KdoDRP, opcode.KdoQMD:
		return sink.OpDelete, true
	case opcode.KdoURP, opcode.KdoORP, opcode.KdoCFA:
		return sink.OpUpdate, true
	}
	return 0, false
}

// emit converts one committed transaction into sink calls and returns its
// memory to the pool. Row-filter conditions are evaluated against the
// transaction's session attributes; a filtered transaction still emits its
// unfiltered tables' rows.
func (p *Parser) emit(tx *txn.Transaction) error {
	defer p.proc.Buffer().Release(tx)

	batch, err := p.emitter.BeginTransaction(tx.Xid, tx.CommitScn, tx.CommitTimestamp, tx.CommitSeq)
	if err != nil {
		return err
	}

	var emitErr error
	tx.Ops(func(e *txn.Entry) bool {
		kind, ok := opKindFor(e)
		if !ok {
			return true
		}
		if kind == sink.OpDdl {
			emitErr = batch.AppendDdl(e.Redo.DdlText)
			return emitErr == nil
		}

		table := p.lookupTable(e.Redo.Obj)
		if table != nil && !table.Condition.Eval(tx.Attributes) {
			return true
		}
		if table != nil && table.IsSystem() {
			tx.System = true
			return true
		}

		rowId := redo.RowId{DataObj: e.Redo.DataObj, Dba: e.Redo.Bdba, Slot: e.Redo.Slot}
		var before, after [][]byte
		switch kind {
		case sink.OpInsert:
			after = e.Redo.SuppLogCols
		case sink.OpDelete:
			if e.HasUndo {
				before = e.Undo.SuppLogCols
			}
		case sink.OpUpdate:
			if e.HasUndo {
				before = e.Undo.SuppLogCols
			}
			after = e.Redo.SuppLogCols
		}
		emitErr = batch.AppendRow(kind, before, after, rowId, table)
		return emitErr == nil
	})
	if emitErr != nil {
		return emitErr
	}

	for _, lobId := range tx.Lobs.Lobs() {
		for _, page := range tx.Lobs.Pages(lobId) {
			if err := batch.AppendLobPage(lobId, page.PageNo, page.Data); err != nil {
				return err
			}
		}
	}

	p.txCounter.Add(context.Background(), 1)
	p.notify(Event{Type: EventTxnCommit, Scn: tx.CommitScn, Data: tx.Xid})
	return nil
}

func (p *Parser) lookupTable(obj redo.TypeObj) *schema.Table {
	if p.view == nil || obj == 0 {
		return nil
	}
	p.view.RLock()
	defer p.view.RUnlock()
	t, ok := p.view.LookupTable(obj)
	if !ok {
		return nil
	}
	return t
}
