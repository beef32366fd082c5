package redo

import (
	"context"
	"encoding/binary"
)

// Supported physical block sizes. Oracle redo blocks are always one of
// these three; the size is detected once per file from block 1's header
// and held fixed for the rest of the run.
const (
	BlockSize512  = 512
	BlockSize1024 = 1024
	BlockSize4096 = 4096
)

// blockHeaderMagicOffset is the byte that carries the block-format marker:
// Oracle always writes 0x22 there for a valid redo block, regardless of
// platform byte order. Next rejects a block past block 1 whose marker
// differs with a RedoFramingError.
const blockHeaderMagicOffset = 0

const blockMagicByte = 0x22

// BlockSource is the collaborator a BlockStream pulls raw bytes from. It
// models a redo file (online or archived) as a sequence of fixed-size
// blocks that may grow while being read (an online log being written
// concurrently) and that must be explicitly acknowledged once consumed so
// the source can reclaim buffering.
type BlockSource interface {
	// Open prepares the source for reading starting at the given block
	// number (1 for the start of the file).
	Open(ctx context.Context, fromBlock uint32) error
	// Poll returns the next available block, or an EndOfFile signal if the
	// source has nothing new yet.
	Poll(ctx context.Context) (block []byte, off FileOffset, err error)
	// ConfirmConsumed tells the source the reader is done with everything
	// up to and including off and it may discard earlier state.
	ConfirmConsumed(ctx context.Context, off FileOffset) error
	Close() error
}

// BlockStream turns a BlockSource into a stream of validated, ordered redo
// blocks: it takes the block size from the length of the first block read,
// then enforces that block numbers increase monotonically by one and that
// the physical block size never changes mid-file. It does not detect
// endianness; ParseFileHeader reads that from the file header.
type BlockStream struct {
	src       BlockSource
	blockSize uint32
	order     binary.ByteOrder
	next      uint32
	detected  bool
}

// NewBlockStream constructs a stream over src.
func NewBlockStream(src BlockSource) *BlockStream {
	return &BlockStream{src: src, order: ByteOrder}
}

// Open opens the underlying source at fromBlock and resets detection state.
// If expectedBlockSize is nonzero, every block read is validated against it
// and a BlockSizeMismatch is returned on disagreement; pass 0 to take the
// size from whatever block is read first. Resuming from a checkpointed
// block passes the size from the already-parsed file header.
func (bs *BlockStream) Open(ctx context.Context, fromBlock uint32, expectedBlockSize uint32) error {
	if err := bs.src.Open(ctx, fromBlock); err != nil {
		return err
	}
	bs.next = fromBlock
	bs.detected = expectedBlockSize != 0
	bs.blockSize = expectedBlockSize
	return nil
}

// Next returns the next block in order. It returns *EndOfFile when the
// source has nothing new, *Overwritten if the source reports a block whose
// generation indicates the file was recycled underneath the reader, and
// *BlockSizeMismatch if a later block's declared size disagrees with the
// size detected from the first one read.
func (bs *BlockStream) Next(ctx context.Context) ([]byte, FileOffset, error) {
	raw, off, err := bs.src.Poll(ctx)
	if err != nil {
		return nil, off, err
	}
	if raw == nil {
		return nil, off, &EndOfFile{Offset: off}
	}

	size := uint32(len(raw))
	if !bs.detected {
		bs.blockSize = size
		bs.detected = true
	} else if size != bs.blockSize {
		return nil, off, &BlockSizeMismatch{Expected: bs.blockSize, Found: size}
	}

	if off.Block != bs.next && bs.next != 0 {
		if off.Block < bs.next {
			return nil, off, &Overwritten{Offset: off}
		}
		return nil, off, &RedoFramingError{
			Offset: off,
			Reason: "non-contiguous block sequence",
		}
	}

	if len(raw) > 0 && raw[blockHeaderMagicOffset] != blockMagicByte && off.Block > 1 {
		return nil, off, &RedoFramingError{Offset: off, Reason: "bad block magic byte"}
	}

	bs.next = off.Block + 1
	return raw, off, nil
}

// Confirm forwards consumption acknowledgement to the underlying source,
// letting it release buffers for blocks at or before off — this is what the
// parser calls after each drained group's checkpoint step.
func (bs *BlockStream) Confirm(ctx context.Context, off FileOffset) error {
	return bs.src.ConfirmConsumed(ctx, off)
}

// BlockSize returns the detected physical block size, or 0 before the first
// block has been read.
func (bs *BlockStream) BlockSize() uint32 { return bs.blockSize }

// Close releases the underlying source.
func (bs *BlockStream) Close() error { return bs.src.Close() }
