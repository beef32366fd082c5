package redo

import "encoding/binary"

// BlockHeaderSize is the per-block frame every redo block leads with; record
// data begins at this offset within each block.
const BlockHeaderSize = 16

// endianMarkerLE is the signature byte a little-endian writer stamps at
// offset 1 of the file header block. Any other value means big-endian.
const endianMarkerLE = 0x7D

// FileHeader is the parsed form of a redo file's first block: the physical
// block size, the database incarnation (resetlogs/activation), the log
// sequence, and the SCN range the file covers. NextScn of zero means the
// file is still being written and its upper bound is unknown.
type FileHeader struct {
	BlockSize  uint32
	Seq        Seq
	Resetlogs  uint32
	Activation uint32
	FirstScn   Scn
	NextScn    Scn
	Version    Version
	BigEndian  bool
}

// ParseFileHeader decodes the file header from the first block. The block
// size it declares must be one of the three physical sizes redo is written
// in; anything else is a framing error.
func ParseFileHeader(block []byte) (FileHeader, error) {
	if len(block) < 64 {
		return FileHeader{}, &TruncatedField{Field: "file_header", Want: 64, Have: len(block)}
	}
	h := FileHeader{BigEndian: block[1] != endianMarkerLE}
	var order binary.ByteOrder = binary.LittleEndian
	if h.BigEndian {
		order = binary.BigEndian
	}
	r := NewBinaryReader(block, order)
	blockSize, _ := r.U16(20)
	seq, _ := r.U32(24)
	resetlogs, _ := r.U32(28)
	activation, _ := r.U32(32)
	firstScn, _ := r.Scn(36)
	nextScn, _ := r.Scn(44)
	version, _ := r.U32(52)

	h.BlockSize = uint32(blockSize)
	h.Seq = Seq(seq)
	h.Resetlogs = resetlogs
	h.Activation = activation
	h.FirstScn = firstScn
	h.NextScn = nextScn
	h.Version = Version(version)

	switch h.BlockSize {
	case BlockSize512, BlockSize1024, BlockSize4096:
	default:
		return FileHeader{}, &RedoFramingError{
			Offset: FileOffset{Block: 0, BlockSize: h.BlockSize},
			Reason: "unsupported block size in file header",
		}
	}
	return h, nil
}
