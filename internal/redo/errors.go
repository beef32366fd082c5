package redo

import "fmt"

// RedoFramingError signals a structural problem in the block/LWN/record
// framing itself: a bad magic byte, an LWN header that doesn't validate, a
// record whose declared length runs past the data available. These are
// fatal regardless of IGNORE_DATA_ERRORS, because framing is what lets us
// find the next record at all.
type RedoFramingError struct {
	Offset FileOffset
	Reason string
}

func (e *RedoFramingError) Error() string {
	return fmt.Sprintf("redo framing error at block %d: %s", e.Offset.Block, e.Reason)
}

// TruncatedField is returned by BinaryReader when a read would run past the
// end of the buffer it was handed.
type TruncatedField struct {
	Field    string
	Want     int
	Have     int
}

func (e *TruncatedField) Error() string {
	return fmt.Sprintf("truncated field %s: want %d bytes, have %d", e.Field, e.Want, e.Have)
}

// UnknownOpcode is raised by the dispatcher for an (layer, sub) pair with no
// registered handler. Non-fatal under IGNORE_DATA_ERRORS: the vector is
// skipped and decoding continues at the next vector.
type UnknownOpcode struct {
	Layer uint16
	Sub   uint16
}

func (e *UnknownOpcode) Error() string {
	return fmt.Sprintf("unknown opcode %d.%d", e.Layer, e.Sub)
}

// SchemaMismatch means a vector referenced an object the SchemaView
// collaborator couldn't resolve, or resolved to a shape (column count,
// types) inconsistent with the vector's own column count. No decoder or
// state-machine path in this module returns it; an unresolved object is
// emitted with a nil table instead.
type SchemaMismatch struct {
	Obj    TypeObj
	Reason string
}

func (e *SchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch for object %d: %s", e.Obj, e.Reason)
}

// ResetlogsMismatch is a control-flow signal, not an error: the log file's
// resetlogs id doesn't match the checkpointed one, meaning this file belongs
// to a different incarnation of the database and should be skipped rather
// than parsed.
type ResetlogsMismatch struct {
	Expected uint32
	Found    uint32
}

func (e *ResetlogsMismatch) Error() string {
	return fmt.Sprintf("resetlogs mismatch: expected %d, found %d", e.Expected, e.Found)
}

// BlockSizeMismatch is a control-flow signal: the block size detected from
// the file header doesn't match what BlockStream was told to expect.
type BlockSizeMismatch struct {
	Expected uint32
	Found    uint32
}

func (e *BlockSizeMismatch) Error() string {
	return fmt.Sprintf("block size mismatch: expected %d, found %d", e.Expected, e.Found)
}

// Overwritten is a control-flow signal: the next block's sequence/SCN data
// indicates the log has been recycled and overwritten since BlockSource last
// reported it as available, i.e. a reader fell behind the online log's
// circular reuse. Callers should stop consuming this file rather than treat
// it as corrupt.
type Overwritten struct {
	Offset FileOffset
}

func (e *Overwritten) Error() string {
	return fmt.Sprintf("block %d has been overwritten", e.Offset.Block)
}

// EndOfFile is a control-flow signal returned by BlockStream when a poll of
// the underlying BlockSource yields no further blocks for now; it is not an
// error in the usual sense and the caller is expected to poll again later.
type EndOfFile struct {
	Offset FileOffset
}

func (e *EndOfFile) Error() string {
	return fmt.Sprintf("end of file at block %d", e.Offset.Block)
}
