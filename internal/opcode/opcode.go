// Package opcode decodes Oracle redo change vectors into RedoLogRecord
// attributes, dispatching on the vector's (layer, sub) opcode pair to the
// handlers registered for the undo (5), index (10), table (11), direct-load
// LOB (19), DDL (24), and LOB-data (26) layers; every table-layer sub-op
// shares one catch-all handler.
package opcode

import (
	"fmt"

	"github.com/leengari/oracdc/internal/redo"
)

// Op identifies one (layer, sub) opcode pair, e.g. Op{5, 1} for "5.1".
type Op struct {
	Layer uint8
	Sub   uint8
}

func (o Op) String() string { return fmt.Sprintf("%d.%d", o.Layer, o.Sub) }

// Layer 5 (transaction control).
var (
	OpUndoHeader       = Op{5, 1}
	OpBeginTransaction = Op{5, 2}
	OpCommit           = Op{5, 4}
	OpPartialRollback  = Op{5, 6}
	OpTxnTableExtend   = Op{5, 11}
	OpSessionInfo      = Op{5, 19}
	OpSessionInfoExt   = Op{5, 20}
)

// Layer 10 (index, KDX).
var (
	OpIndexInsertLeaf = Op{10, 2}
	OpIndexInitHeader = Op{10, 8}
	OpIndexUpdateKey  = Op{10, 18}
)

// Layer 11 (table, KDO) kdo_op_code values, selected on op & 0x1F.
const (
	KdoIRP uint8 = iota + 1
	KdoDRP
	KdoLKR
	KdoURP
	KdoORP
	KdoCFA
	KdoSKL
	KdoQMI
	KdoQMD
	KdoCKI
	KdoDSC
	KdoLMN
	KdoLLB
	KdoSHK
	KdoCMP
	KdoDCU
	KdoMRK
)

// Layer 19 (direct-load LOB).
var OpLobDirectLoad = Op{19, 1}

// Layer 24 (DDL marker).
var OpDDL = Op{24, 1}

// Layer 26 (LOB data, KDLI).
var (
	OpKdliData = Op{26, 2}
	OpKdliLoad = Op{26, 6}
)

// Flag bits carried in a 5.1/5.2/5.4 vector's flg field, taken from
// original_source's OpCode.h rather than re-derived.
const (
	FlgMultiBlockUndoHead = 0x0001
	FlgMultiBlockUndoTail = 0x0002
	FlgLastBufferSplit    = 0x0004
	FlgBeginTrans         = 0x0008
	FlgUserUndoDone       = 0x0010
	FlgIsTempObject       = 0x0020
	FlgUserOnly           = 0x0040
	FlgTablespaceUndo     = 0x0080
	FlgMultiBlockUndoMid  = 0x0100
	FlgBuExt              = 0x0800
	FlgRollbackOp0504     = 0x0004
	FlgKtucfOp0504        = 0x0002
)

// Row flags (FB), one bit per position per original_source's OpCode.h.
const (
	FbN uint8 = 1 << 7 // next row piece exists (chained)
	FbP uint8 = 1 << 6 // previous row piece exists
	FbL uint8 = 1 << 5 // last row piece
	FbF uint8 = 1 << 4 // first row piece
	FbD uint8 = 1 << 3 // deleted row
	FbH uint8 = 1 << 2 // head row piece
	FbC uint8 = 1 << 1 // clustered row
	FbK uint8 = 1 << 0 // cluster key
)

// KTB redo envelope op byte values (interested-transaction-list header),
// per OpCode.h. The low nibble selects the op; the cleanout bit rides above
// it.
const (
	KtbOpF byte = 0x01 // xid owns the block
	KtbOpC byte = 0x02 // carries an uba
	KtbOpZ byte = 0x03
	KtbOpL byte = 0x04 // single ITL entry (xid+uba+flags+scn)
	KtbOpR byte = 0x05 // enumerates ITL entries
	KtbOpN byte = 0x06
)

// KtbOpMask extracts the op from the ktb op byte.
const KtbOpMask = 0x0F

// KtbBlockCleanout is OR'd into the ktb op byte when the redo also carries
// per-ITL SCN cleanout stamps.
const KtbBlockCleanout = 0x10

// Handler decodes one change vector into row, writing results into row.
// Handlers are looked up by (layer, sub); a handler may be registered for
// a specific sub or, by using SubAny, for every sub of a layer it doesn't
// otherwise distinguish.
type Handler func(v redo.ChangeVector, row *Row) error

// SubAny matches any sub opcode within a layer that has no specific handler
// registered.
const SubAny = 0xFF

// Row is the normalized, mutable record every handler populates — the Go
// form of "RedoLogRecord" attributes any opcode handler may set, built up
// vector by vector as the pairing state machine (internal/txn) walks a
// record.
type Row struct {
	Obj     redo.TypeObj
	DataObj redo.TypeDataObj
	Xid     redo.Xid
	Bdba    redo.Dba
	Slot    uint16
	Fb      uint8
	Cc      uint8
	KdoOp   uint8
	NullsOffset int
	RowDataIdx  int
	Hrid        redo.RowId
	Nrid        redo.RowId
	HasHrid     bool
	HasNrid     bool

	KtbOp            byte
	KtbBlockCleanout bool
	KtbXid           redo.Xid
	KtbUba           redo.Uba

	LobId       redo.LobId
	LobPageNo   uint32
	LobOffset   uint32
	LobData     []byte
	LobDataSize uint32
	KdliOp      uint8
	KdliType    uint8

	SuppLogCols [][]byte

	AttrCodes []uint16
	AttrVals  [][]byte

	DdlObj redo.TypeObj
	DdlText string

	Flags uint16
	ConId uint16
	Op    Op
}

// Dispatcher routes a change vector to its registered opcode handler.
type Dispatcher struct {
	handlers map[Op]Handler
}

// NewDispatcher builds a Dispatcher with every built-in handler registered.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[Op]Handler)}
	registerLayer5(d)
	registerLayer10(d)
	registerLayer11(d)
	registerLayer19(d)
	registerLayer24(d)
	registerLayer26(d)
	return d
}

// Register installs handler for op, overwriting any existing registration.
func (d *Dispatcher) Register(op Op, h Handler) {
	d.handlers[op] = h
}

// Dispatch decodes v into a fresh Row. It returns *redo.UnknownOpcode if no
// handler is registered for v's (layer, sub).
func (d *Dispatcher) Dispatch(v redo.ChangeVector) (Row, error) {
	op := Op{Layer: v.Layer, Sub: v.Sub}
	h, ok := d.handlers[op]
	if !ok {
		h, ok = d.handlers[Op{Layer: v.Layer, Sub: SubAny}]
	}
	if !ok {
		return Row{}, &redo.UnknownOpcode{Layer: uint16(v.Layer), Sub: uint16(v.Sub)}
	}
	row := Row{Op: op, Flags: v.FlgRecord, Bdba: v.Dba, ConId: v.ConId}
	if err := h(v, &row); err != nil {
		return Row{}, err
	}
	return row, nil
}
