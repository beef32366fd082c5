// Package core wires the parse pipeline end to end: block stream, LWN
// assembly, record splitting, opcode dispatch, transaction reconstruction,
// emission, and checkpointing.
package core

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leengari/oracdc/internal/checkpoint"
	"github.com/leengari/oracdc/internal/opcode"
	"github.com/leengari/oracdc/internal/redo"
	"github.com/leengari/oracdc/internal/schema"
	"github.com/leengari/oracdc/internal/sink"
	"github.com/leengari/oracdc/internal/txn"
)

// Config carries the parser's operator-facing knobs.
type Config struct {
	Txn txn.Config
	// FirstDataScn suppresses checkpoints for groups at or below it.
	FirstDataScn redo.Scn
	// StopCheckpoints / StopTransactions arm a controlled shutdown.
	StopCheckpoints  uint32
	StopTransactions uint32
	// ChunkPoolSize pre-seeds the transaction arena pool.
	ChunkPoolSize int
}

// Parser runs one redo log file through the full pipeline. One file per Run
// call; the host loops over files in sequence order.
type Parser struct {
	cfg     Config
	stream  *redo.BlockStream
	asm     *redo.LwnAssembler
	split   *redo.RecordSplitter
	proc    *txn.Processor
	coord   *checkpoint.Coordinator
	emitter sink.Emitter
	view    schema.View
	log     *slog.Logger
	hot     *zap.SugaredLogger

	fileHdr   redo.FileHeader
	skipScn   redo.Scn
	seq       redo.Seq
	softStop  atomic.Bool
	observers []Observer

	tracer     trace.Tracer
	txCounter  metric.Int64Counter
	lwnCounter metric.Int64Counter
}

// New builds a parser over src. store may be nil to run without
// checkpointing (tests); view may be nil to run without a schema filter.
// The record splitter is configured at Run time, once the file header has
// revealed the redo-format version.
func New(src redo.BlockSource, view schema.View, emitter sink.Emitter, store checkpoint.StateStore, cfg Config, log *slog.Logger, hot *zap.SugaredLogger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	if hot == nil {
		hot = zap.NewNop().Sugar()
	}
	if cfg.ChunkPoolSize == 0 {
		cfg.ChunkPoolSize = 16
	}

	pool := txn.NewChunkPool(cfg.ChunkPoolSize)
	buf := txn.NewTxBuffer(cfg.Txn, pool, log)
	proc := txn.NewProcessor(buf, opcode.NewDispatcher(), view, log, hot)

	var coord *checkpoint.Coordinator
	if store != nil {
		coord = checkpoint.NewCoordinator(store, emitter, checkpoint.Options{
			FirstDataScn:     cfg.FirstDataScn,
			StopCheckpoints:  cfg.StopCheckpoints,
			StopTransactions: cfg.StopTransactions,
			Log:              log,
		})
	}

	meter := otel.Meter("oracdc/core")
	txCounter, _ := meter.Int64Counter("oracdc.transactions.committed",
		metric.WithDescription("Committed transactions emitted"))
	lwnCounter, _ := meter.Int64Counter("oracdc.lwn.groups",
		metric.WithDescription("LWN groups drained"))

	return &Parser{
		cfg:        cfg,
		stream:     redo.NewBlockStream(src),
		asm:        redo.NewLwnAssembler(),
		proc:       proc,
		coord:      coord,
		emitter:    emitter,
		view:       view,
		log:        log,
		hot:        hot,
		tracer:     otel.Tracer("oracdc/core"),
		txCounter:  txCounter,
		lwnCounter: lwnCounter,
	}
}

// Subscribe registers an observer for lifecycle events.
func (p *Parser) Subscribe(o Observer) {
	p.observers = append(p.observers, o)
}

func (p *Parser) notify(e Event) {
	e.Timestamp = time.Now()
	e.Seq = p.seq
	for _, o := range p.observers {
		o.OnEvent(e)
	}
}

// Shutdown requests a cooperative stop. The parser finishes the group in
// flight, persists a final checkpoint, and returns from Run.
func (p *Parser) Shutdown() { p.softStop.Store(true) }

// Header returns the parsed file header of the log being processed.
func (p *Parser) Header() redo.FileHeader { return p.fileHdr }

// Run parses one redo log file to its end (or to a controlled stop),
// emitting committed transactions and persisting checkpoints along the way.
// Overwritten and ResetlogsMismatch surface to the caller as typed errors.
func (p *Parser) Run(ctx context.Context) error {
	startBlock, err := p.open(ctx)
	if err != nil {
		return err
	}
	p.notify(Event{Type: EventFileStart, Scn: p.fileHdr.FirstScn, Data: startBlock})

	// An LWN group is a chain of headers: every header names the same group
	// number and the group's header count, and its size field says how many
	// blocks until the next header. The group is only complete once the
	// declared number of headers has been walked and the last header's span
	// consumed.
	var (
		groupHdr   redo.LwnHeader
		inGroup    bool
		lwnNumCnt  uint16
		groupStart uint32
		nextHeader = startBlock
		lwnIdx     uint32
	)

	for {
		block, off, err := p.stream.Next(ctx)
		if err != nil {
			var eof *redo.EndOfFile
			if errors.As(err, &eof) {
				if inGroup {
					return &redo.RedoFramingError{Offset: off, Reason: "log ends inside an LWN group"}
				}
				p.notify(Event{Type: EventFileEnd, Scn: groupHdr.Scn})
				return p.emitter.FlushAndAwaitDurable()
			}
			return err
		}
		if off.Block == 0 {
			// File header block; already parsed during open.
			continue
		}

		payload := block[redo.BlockHeaderSize:]
		if off.Block == nextHeader {
			hdr, err := redo.ParseLwnHeader(payload[:redo.LwnHeaderSize])
			if err != nil {
				return err
			}
			if hdr.Vld&redo.LwnVldFullHeader == 0 {
				return &redo.RedoFramingError{Offset: off, Reason: "LWN header lacks full-header vld bit"}
			}
			if hdr.Size == 0 || hdr.NumMax == 0 {
				return &redo.RedoFramingError{Offset: off, Reason: "LWN header with zero size or header count"}
			}
			if !inGroup {
				if hdr.Scn < p.fileHdr.FirstScn || (p.fileHdr.NextScn != 0 && hdr.Scn > p.fileHdr.NextScn) {
					return &redo.RedoFramingError{Offset: off, Reason: "LWN scn outside file scn range"}
				}
				groupHdr = hdr
				groupStart = off.Block
				lwnNumCnt = 0
				inGroup = true
				p.asm.BeginGroup(hdr)
				p.notify(Event{Type: EventLwnStart, Scn: hdr.Scn, Data: off.Block})
			} else if hdr.Num != groupHdr.Num || hdr.NumMax != groupHdr.NumMax {
				return &redo.RedoFramingError{Offset: off, Reason: "LWN chain number mismatch"}
			}
			lwnNumCnt++
			if lwnNumCnt > groupHdr.NumMax {
				return &redo.RedoFramingError{Offset: off, Reason: "LWN chain overflow"}
			}
			nextHeader = off.Block + hdr.Size
			payload = payload[redo.LwnHeaderSize:]
		} else if !inGroup {
			return &redo.RedoFramingError{Offset: off, Reason: "block outside any LWN group"}
		}

		if err := p.asm.Feed(payload, off); err != nil {
			return err
		}

		// The group ends when the final chained header's span is consumed.
		if off.Block+1 != nextHeader || lwnNumCnt != groupHdr.NumMax {
			continue
		}
		if p.asm.Pending() {
			return &redo.RedoFramingError{Offset: off, Reason: "LWN group ended with a partial record"}
		}

		lwnIdx++
		stop, err := p.drainGroup(ctx, groupHdr,
			redo.FileOffset{Block: groupStart, BlockSize: off.BlockSize},
			redo.FileOffset{Block: nextHeader, BlockSize: off.BlockSize},
			lwnIdx)
		if err != nil {
			return err
		}
		inGroup = false
		if stop || p.softStop.Load() {
			p.notify(Event{Type: EventFileEnd, Scn: groupHdr.Scn})
			return p.emitter.FlushAndAwaitDurable()
		}
	}
}

// open reads the file header, configures the splitter for the file's
// redo-format version, consults the checkpoint store for a resume point,
// and positions the stream.
func (p *Parser) open(ctx context.Context) (uint32, error) {
	if err := p.stream.Open(ctx, 0, 0); err != nil {
		return 0, err
	}
	block, _, err := p.stream.Next(ctx)
	if err != nil {
		return 0, err
	}
	hdr, err := redo.ParseFileHeader(block)
	if err != nil {
		return 0, err
	}
	if hdr.BlockSize != uint32(len(block)) {
		return 0, &redo.BlockSizeMismatch{Expected: hdr.BlockSize, Found: uint32(len(block))}
	}
	p.fileHdr = hdr
	p.seq = hdr.Seq
	p.split = redo.NewRecordSplitter(hdr.Version)
	p.proc.SetSequence(hdr.Seq)

	startBlock := uint32(1)
	if p.coord != nil {
		payload, err := p.coord.Resume(hdr)
		if err != nil {
			return 0, err
		}
		if payload != nil && redo.Seq(payload.Sequence) == hdr.Seq {
			startBlock = uint32(payload.ResumeBlock())
			p.skipScn = redo.Scn(payload.Scn)
			p.log.Info("resuming from checkpoint",
				"block", startBlock, "scn", p.skipScn.String())
		}
	}
	if startBlock > 1 {
		if err := p.stream.Open(ctx, startBlock, hdr.BlockSize); err != nil {
			return 0, err
		}
	}
	return startBlock, nil
}

// drainGroup pops the group's records in (scn, sub_scn, position) order,
// runs them through the state machine, emits what committed, and
// checkpoints. Records are stamped with the group's start block — the
// position a restart must re-read from to rebuild any transaction they
// opened — and the checkpoint points at the next group's first block.
func (p *Parser) drainGroup(ctx context.Context, hdr redo.LwnHeader, groupStart, cpOff redo.FileOffset, lwnIdx uint32) (bool, error) {
	ctx, span := p.tracer.Start(ctx, "lwn.drain", trace.WithAttributes(
		attribute.Int64("scn", int64(hdr.Scn)),
		attribute.Int64("block", int64(groupStart.Block)),
	))
	defer span.End()

	stopRequested := false
	for {
		data, ok := p.asm.Drain()
		if !ok {
			break
		}
		rec, err := p.split.Split(data, groupStart)
		if err != nil {
			if !p.cfg.Txn.IgnoreDataErrors {
				span.RecordError(err)
				return false, err
			}
			p.hot.Warnw("skipping unsplittable record", "err", err)
			continue
		}
		committed, err := p.proc.ProcessRecord(rec, hdr.Timestamp)
		if err != nil {
			span.RecordError(err)
			return false, err
		}
		for _, tx := range committed {
			if tx.CommitScn <= p.skipScn {
				// Already emitted before the checkpoint we resumed from.
				p.proc.Buffer().Release(tx)
				continue
			}
			if err := p.emit(tx); err != nil {
				return false, err
			}
			if p.coord != nil && p.coord.TransactionEmitted() {
				stopRequested = true
			}
		}
	}
	if soft := p.proc.TakeSoftErrors(); soft != nil {
		p.log.Warn("data errors ignored in LWN group", "scn", hdr.Scn.String(), "errors", soft)
	}

	p.lwnCounter.Add(ctx, 1)
	p.notify(Event{Type: EventLwnEnd, Scn: hdr.Scn, Data: lwnIdx})

	if p.coord != nil {
		stop, err := p.coord.OnLwnDrained(ctx, p.seq, cpOff, hdr.Scn, hdr.Timestamp, p.proc.Buffer())
		if err != nil {
			return false, err
		}
		p.notify(Event{Type: EventCheckpoint, Scn: hdr.Scn, Data: cpOff.Block})
		if stop {
			stopRequested = true
		}
	}
	if err := p.stream.Confirm(ctx, cpOff); err != nil {
		return false, err
	}
	return stopRequested, nil
}
