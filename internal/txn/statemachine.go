package txn

import (
	"errors"
	"log/slog"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/leengari/oracdc/internal/filterexpr"
	"github.com/leengari/oracdc/internal/opcode"
	"github.com/leengari/oracdc/internal/redo"
	"github.com/leengari/oracdc/internal/schema"
)

// attrKeyNames maps the numeric session-attribute codes a 5.19/5.20 vector
// carries to the closed attribute enum. Codes outside the table are dropped.
var attrKeyNames = map[uint16]filterexpr.AttrKey{
	1:  filterexpr.AttrVersion,
	2:  filterexpr.AttrAuditSessionId,
	3:  filterexpr.AttrClientId,
	4:  filterexpr.AttrClientInfo,
	5:  filterexpr.AttrLoginUsername,
	6:  filterexpr.AttrMachineName,
	7:  filterexpr.AttrOsUserName,
	8:  filterexpr.AttrOsProcessId,
	9:  filterexpr.AttrOsProgramName,
	10: filterexpr.AttrTransactionName,
	11: filterexpr.AttrSerialNumber,
	12: filterexpr.AttrSessionNumber,
}

// Processor is the vector-pairing state machine: it walks a record's
// decoded vectors with a two-slot window, groups them into operations, and
// routes them into the TxBuffer. It is single-threaded by contract, owned
// by the parser goroutine.
type Processor struct {
	buf    *TxBuffer
	disp   *opcode.Dispatcher
	schema schema.View
	log    *slog.Logger
	hot    *zap.SugaredLogger

	seq    redo.Seq
	lastTx *Transaction

	softErrs []error
}

// NewProcessor wires the state machine over buf. A nil schema disables the
// DDL schema filter (every marker is dropped); nil loggers fall back to
// defaults.
func NewProcessor(buf *TxBuffer, disp *opcode.Dispatcher, view schema.View, log *slog.Logger, hot *zap.SugaredLogger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if hot == nil {
		hot = zap.NewNop().Sugar()
	}
	return &Processor{buf: buf, disp: disp, schema: view, log: log, hot: hot}
}

// SetSequence tells the processor which log sequence subsequent records come
// from, for first_sequence stamping on new transactions.
func (p *Processor) SetSequence(seq redo.Seq) { p.seq = seq }

// TakeSoftErrors drains the data-level errors tolerated under
// IGNORE_DATA_ERRORS since the last call, combined into one error the
// caller logs once per LWN group.
func (p *Processor) TakeSoftErrors() error {
	err := multierr.Combine(p.softErrs...)
	p.softErrs = nil
	return err
}

// Buffer returns the underlying transaction buffer.
func (p *Processor) Buffer() *TxBuffer { return p.buf }

// isDataLayer reports whether a row is the redo half of an undo+redo pair:
// an index, table, or KDLI-data change.
func isDataLayer(op opcode.Op) bool {
	return op.Layer == 10 || op.Layer == 11 || op == opcode.OpKdliData
}

// ProcessRecord runs one record's vectors through the pairing rules and
// returns any transactions committed by it, in the order their 5.4 vectors
// appeared. Returned transactions have left the buffer; the caller emits
// them and hands them back via Release.
func (p *Processor) ProcessRecord(rec redo.RedoLogRecord, lwnTime time.Time) ([]*Transaction, error) {
	var committed []*Transaction
	var pendingUndo *opcode.Row
	var lastData *opcode.Row

	for _, v := range rec.Vectors {
		row, err := p.disp.Dispatch(v)
		if err != nil {
			if !p.buf.cfg.IgnoreDataErrors || isFraming(err) {
				return committed, err
			}
			p.hot.Warnw("skipping undecodable vector",
				"opcode", opcode.Op{Layer: v.Layer, Sub: v.Sub}.String(),
				"scn", rec.Header.Scn.String(), "err", err)
			p.softErrs = append(p.softErrs, err)
			continue
		}

		switch {
		case row.Op == opcode.OpUndoHeader:
			if pendingUndo != nil {
				p.appendStandaloneUndo(pendingUndo, rec)
			}
			r := row
			pendingUndo = &r

		case isDataLayer(row.Op):
			if row.Op.Layer == 10 && row.LobId != (redo.LobId{}) {
				xid := row.Xid
				if xid == redo.ZeroXid {
					xid = row.KtbXid
				}
				if xid == redo.ZeroXid && pendingUndo != nil {
					xid = undoXid(pendingUndo)
				}
				if xid != redo.ZeroXid {
					p.buf.SetLobXid(row.LobId, xid, row.ConId)
				}
			}
			if pendingUndo != nil {
				p.appendPair(pendingUndo, &row, rec)
				pendingUndo = nil
			} else if row.Op == opcode.OpKdliData {
				p.addLobData(&row, rec)
			}
			r := row
			lastData = &r

		case row.Op == opcode.OpPartialRollback || row.Op == opcode.OpTxnTableExtend:
			if lastData == nil {
				if row.Op == opcode.OpPartialRollback {
					p.hot.Debugw("partial rollback without data vector",
						"scn", rec.Header.Scn.String())
				}
				continue
			}
			p.rollbackLast(&row, lastData)
			lastData = nil

		case row.Op == opcode.OpBeginTransaction:
			tx := p.buf.Begin(row.Xid, row.ConId, p.seq, rec.Offset)
			p.lastTx = tx

		case row.Op == opcode.OpCommit:
			if tx := p.commit(&row, rec, lwnTime); tx != nil {
				committed = append(committed, tx)
			}

		case row.Op == opcode.OpSessionInfo || row.Op == opcode.OpSessionInfoExt:
			p.sessionInfo(&row)

		case row.Op == opcode.OpLobDirectLoad || row.Op == opcode.OpKdliLoad:
			p.addLobData(&row, rec)

		case row.Op == opcode.OpDDL:
			p.ddl(&row, rec)
		}
	}

	if pendingUndo != nil {
		p.appendStandaloneUndo(pendingUndo, rec)
	}
	return committed, nil
}

// isFraming reports whether err is structural rather than data-level;
// framing errors stay fatal under IGNORE_DATA_ERRORS.
func isFraming(err error) bool {
	var framing *redo.RedoFramingError
	return errors.As(err, &framing)
}

// undoXid picks the transaction id a 5.1 vector names: the KTB envelope's
// xid, unless the undo header carried one directly.
func undoXid(undo *opcode.Row) redo.Xid {
	if undo.Xid != redo.ZeroXid {
		return undo.Xid
	}
	return undo.KtbXid
}

// findTx resolves the transaction a vector belongs to, creating it when the
// incomplete-transaction policy allows. Skipped xids return nil.
func (p *Processor) findTx(xid redo.Xid, conId uint16, off redo.FileOffset) *Transaction {
	if xid == redo.ZeroXid {
		return nil
	}
	tx, ok := p.buf.Find(xid, conId, p.seq, off, true)
	if !ok {
		return nil
	}
	p.lastTx = tx
	return tx
}

// appendPair appends one undo+redo operation (rule 1 of the pairing table).
func (p *Processor) appendPair(undo *opcode.Row, data *opcode.Row, rec redo.RedoLogRecord) {
	xid := undoXid(undo)
	tx := p.findTx(xid, undo.ConId, rec.Offset)
	if tx == nil {
		return
	}
	if data.Op == opcode.OpKdliData {
		if data.LobId != (redo.LobId{}) {
			p.buf.SetLobXid(data.LobId, xid, undo.ConId)
			tx.Lobs.AddPage(data.LobId, data.LobPageNo, data.LobData)
		}
		return
	}
	// The 5.1 carries the authoritative obj/dataobj; propagate onto the data
	// half so downstream consumers resolve the table from either.
	if data.Obj == 0 {
		data.Obj = undo.Obj
		data.DataObj = undo.DataObj
	}
	p.buf.Append(tx, Entry{
		Op:      data.Op,
		UndoOp:  undo.Op,
		Redo:    *data,
		Undo:    *undo,
		HasUndo: true,
		Scn:     rec.Header.Scn,
		SubScn:  rec.Header.SubScn,
	})
}

// appendStandaloneUndo appends a lone 5.1 (rule 2): multi-block undo
// heads/mids/tails recognized by their flg bits, or any other unpaired undo.
func (p *Processor) appendStandaloneUndo(undo *opcode.Row, rec redo.RedoLogRecord) {
	tx := p.findTx(undoXid(undo), undo.ConId, rec.Offset)
	if tx == nil {
		return
	}
	p.buf.Append(tx, Entry{
		Op:     undo.Op,
		Redo:   *undo,
		Scn:    rec.Header.Scn,
		SubScn: rec.Header.SubScn,
	})
}

// rollbackLast undoes the most recent matching operation (rule 3). A miss
// is logged and ignored: rollbacks for transactions outside the replicated
// schema are routine.
func (p *Processor) rollbackLast(ctl *opcode.Row, data *opcode.Row) {
	xid := ctl.Xid
	if xid == redo.ZeroXid {
		xid = ctl.KtbXid
	}
	if xid == redo.ZeroXid {
		xid = data.KtbXid
	}
	tx, ok := p.buf.Find(xid, ctl.ConId, p.seq, redo.FileOffset{}, false)
	if !ok || tx == nil {
		if p.buf.BrokenXid(xid) {
			p.log.Warn("rollback references unknown transaction",
				"usn", xid.Usn(), "slt", xid.Slt())
		}
		return
	}
	if !tx.RollbackLastOp(data.Bdba, data.Slot) {
		p.hot.Debugw("partial rollback matched no operation",
			"xid", tx.Xid.String(), "bdba", uint32(data.Bdba), "slot", data.Slot)
	}
}

// commit closes a transaction (rule 5). Commits leave the buffer and are
// returned for emission; rollbacks are dropped and their memory released.
func (p *Processor) commit(row *opcode.Row, rec redo.RedoLogRecord, lwnTime time.Time) *Transaction {
	if p.buf.Skipped(row.Xid, row.ConId) {
		p.buf.Forget(row.Xid, row.ConId)
		return nil
	}
	tx, ok := p.buf.Find(row.Xid, row.ConId, p.seq, rec.Offset, true)
	if !ok || tx == nil {
		p.hot.Debugw("commit for unknown transaction", "xid", row.Xid.String())
		return nil
	}
	tx.CommitScn = rec.Header.Scn
	tx.CommitSubScn = rec.Header.SubScn
	tx.CommitTimestamp = lwnTime
	tx.CommitSeq = p.seq
	tx.Rollback = opcode.IsRollback(row.Flags)
	p.buf.Take(tx)
	if p.lastTx == tx {
		p.lastTx = nil
	}
	if tx.Rollback {
		// A rolled-back transaction produced nothing downstream cares about.
		p.buf.Release(tx)
		return nil
	}
	return tx
}

// sessionInfo stores 5.19/5.20 attributes on the current or last-seen
// transaction (rule for session vectors: they trail the work they describe).
func (p *Processor) sessionInfo(row *opcode.Row) {
	tx := p.lastTx
	if row.Xid != redo.ZeroXid {
		if found, ok := p.buf.Find(row.Xid, row.ConId, p.seq, redo.FileOffset{}, false); ok {
			tx = found
		}
	}
	if tx == nil {
		return
	}
	for i, code := range row.AttrCodes {
		key, ok := attrKeyNames[code]
		if !ok {
			continue
		}
		tx.Attribute(key, string(row.AttrVals[i]))
	}
}

// addLobData routes a LOB page write (rules 6): into the owning transaction
// when the xid is known — carried by the vector or previously revealed by an
// index vector — and into the orphan store otherwise.
func (p *Processor) addLobData(row *opcode.Row, rec redo.RedoLogRecord) {
	if row.LobId == (redo.LobId{}) {
		return
	}
	xid := row.Xid
	if xid == redo.ZeroXid {
		if mapped, ok := p.buf.LobXid(row.LobId); ok {
			xid = mapped
		}
	}
	if xid == redo.ZeroXid {
		p.buf.AddOrphanLobPage(row.LobId, row.LobPageNo, row.LobData)
		return
	}
	p.buf.SetLobXid(row.LobId, xid, row.ConId)
	tx := p.findTx(xid, row.ConId, rec.Offset)
	if tx == nil {
		return
	}
	if p.schema != nil {
		if lob, ok := p.lookupLob(row.DataObj); ok {
			tx.Lobs.CheckPageSize(row.LobId, row.LobDataSize, lob.PageSize, p.log)
		}
	}
	tx.Lobs.AddPage(row.LobId, row.LobPageNo, row.LobData)
}

func (p *Processor) lookupLob(dataObj redo.TypeDataObj) (*schema.Lob, bool) {
	p.schema.RLock()
	defer p.schema.RUnlock()
	return p.schema.LookupLob(dataObj)
}

// ddl appends a 24.1 marker (rule 7) only when the schema filter selects the
// object it names.
func (p *Processor) ddl(row *opcode.Row, rec redo.RedoLogRecord) {
	if p.schema == nil {
		return
	}
	p.schema.RLock()
	tbl, ok := p.schema.LookupTable(row.DdlObj)
	p.schema.RUnlock()
	if !ok || tbl.IsSystem() {
		return
	}
	tx := p.lastTx
	if row.Xid != redo.ZeroXid {
		tx = p.findTx(row.Xid, row.ConId, rec.Offset)
	}
	if tx == nil {
		return
	}
	p.buf.Append(tx, Entry{
		Op:     row.Op,
		Redo:   *row,
		Scn:    rec.Header.Scn,
		SubScn: rec.Header.SubScn,
	})
	if tbl.IsSchemaTable() {
		tx.Schema = true
	}
}
