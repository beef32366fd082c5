package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/leengari/oracdc/internal/redo"
	"github.com/leengari/oracdc/internal/sink"
	"github.com/leengari/oracdc/internal/txn"
)

// Coordinator drives the checkpoint cycle: after each drained LWN group it
// computes the minimum restart position over in-flight transactions,
// persists the resume point, and signals the emitter. It also carries the
// controlled-shutdown countdowns.
type Coordinator struct {
	store   StateStore
	emitter sink.Emitter
	log     *slog.Logger

	tracer  trace.Tracer
	count   metric.Int64Counter
	latency metric.Float64Histogram

	resetlogs    uint32
	activation   uint32
	firstDataScn redo.Scn
	lwnIdx       uint32

	// stopCheckpoints/stopTransactions count down to a controlled shutdown;
	// zero means not armed.
	stopCheckpoints  uint32
	stopTransactions uint32
	emitted          uint64
}

// Options configures a Coordinator.
type Options struct {
	Resetlogs    uint32
	Activation   uint32
	FirstDataScn redo.Scn
	// StopCheckpoints arms a shutdown after that many checkpoints; 0
	// disables.
	StopCheckpoints uint32
	// StopTransactions arms a shutdown after that many emitted
	// transactions; 0 disables.
	StopTransactions uint32
	Log              *slog.Logger
}

// NewCoordinator wires a coordinator over store and emitter.
func NewCoordinator(store StateStore, emitter sink.Emitter, opts Options) *Coordinator {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	meter := otel.Meter("oracdc/checkpoint")
	count, _ := meter.Int64Counter("oracdc.checkpoints.total",
		metric.WithDescription("Checkpoints persisted"))
	latency, _ := meter.Float64Histogram("oracdc.checkpoint.persist.seconds",
		metric.WithDescription("Checkpoint persist latency"))
	return &Coordinator{
		store:            store,
		emitter:          emitter,
		log:              log,
		tracer:           otel.Tracer("oracdc/checkpoint"),
		count:            count,
		latency:          latency,
		resetlogs:        opts.Resetlogs,
		activation:       opts.Activation,
		firstDataScn:     opts.FirstDataScn,
		stopCheckpoints:  opts.StopCheckpoints,
		stopTransactions: opts.StopTransactions,
	}
}

// Resume loads the persisted resume point and validates it against the file
// header of the log about to be parsed. A missing checkpoint returns nil: a
// cold start. A resetlogs disagreement is fatal — the log belongs to a
// different database incarnation.
func (c *Coordinator) Resume(hdr redo.FileHeader) (*Payload, error) {
	data, ok, err := c.store.Read(NameCheckpoint)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.resetlogs = hdr.Resetlogs
		c.activation = hdr.Activation
		return nil, nil
	}
	p, err := DecodePayload(data)
	if err != nil {
		return nil, err
	}
	if p.Resetlogs != 0 && hdr.Resetlogs != 0 && p.Resetlogs != hdr.Resetlogs {
		return nil, &redo.ResetlogsMismatch{Expected: p.Resetlogs, Found: hdr.Resetlogs}
	}
	c.resetlogs = hdr.Resetlogs
	c.activation = hdr.Activation
	return p, nil
}

// TransactionEmitted counts one emitted transaction toward the controlled
// shutdown countdown, returning true when the countdown just expired.
func (c *Coordinator) TransactionEmitted() bool {
	c.emitted++
	return c.stopTransactions != 0 && c.emitted >= uint64(c.stopTransactions)
}

// OnLwnDrained runs the checkpoint cycle after one fully-drained LWN group.
// It returns true when an armed countdown expired and the caller should
// finish up and exit. Groups at or below the first data SCN are positions
// we've already produced output for; they advance no checkpoint.
func (c *Coordinator) OnLwnDrained(ctx context.Context, seq redo.Seq, off redo.FileOffset, lwnScn redo.Scn, lwnTime time.Time, buf *txn.TxBuffer) (bool, error) {
	if lwnScn <= c.firstDataScn {
		return false, nil
	}
	c.lwnIdx++

	ctx, span := c.tracer.Start(ctx, "checkpoint.persist", trace.WithAttributes(
		attribute.Int64("scn", int64(lwnScn)),
		attribute.Int64("block", int64(off.Block)),
	))
	defer span.End()

	p := &Payload{
		Resetlogs:       c.resetlogs,
		Activation:      c.activation,
		Sequence:        uint32(seq),
		FileOffsetBlock: uint64(off.Block),
		Scn:             uint64(lwnScn),
		TimestampEpoch:  lwnTime.Unix(),
		LwnIdx:          c.lwnIdx,
	}
	c.fillMinActive(p, buf)

	data, err := p.Encode()
	if err != nil {
		return false, err
	}
	start := time.Now()
	if err := c.store.Write(NameCheckpoint, lwnScn, data); err != nil {
		span.RecordError(err)
		return false, err
	}
	c.latency.Record(ctx, time.Since(start).Seconds())
	c.count.Add(ctx, 1)

	c.emitter.OnCheckpoint(lwnScn, c.lwnIdx, off)

	if c.stopCheckpoints != 0 && c.lwnIdx >= c.stopCheckpoints {
		c.log.Info("stop-checkpoints countdown reached, shutting down",
			"checkpoints", c.lwnIdx)
		return true, nil
	}
	return false, nil
}

// fillMinActive records the oldest in-flight transaction by
// (first_sequence, first_file_offset, xid); skip-listed transactions are
// already out of the buffer and naturally excluded.
func (c *Coordinator) fillMinActive(p *Payload, buf *txn.TxBuffer) {
	if buf == nil {
		return
	}
	var min *txn.Transaction
	buf.Live(func(tx *txn.Transaction) bool {
		if min == nil || olderThan(tx, min) {
			min = tx
		}
		return true
	})
	if min == nil {
		return
	}
	seq := uint32(min.FirstSeq)
	block := uint64(min.FirstOffset.Block)
	xid := min.Xid.String()
	p.MinSequence = &seq
	p.MinFileOffsetBlock = &block
	p.MinXid = &xid
}

func olderThan(a, b *txn.Transaction) bool {
	if a.FirstSeq != b.FirstSeq {
		return a.FirstSeq < b.FirstSeq
	}
	if a.FirstOffset.Block != b.FirstOffset.Block {
		return a.FirstOffset.Block < b.FirstOffset.Block
	}
	return a.Xid < b.Xid
}

// LwnIdx returns the index of the last persisted checkpoint.
func (c *Coordinator) LwnIdx() uint32 { return c.lwnIdx }
