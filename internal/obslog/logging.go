// Package obslog sets up the process's observability: the slog logger that
// carries lifecycle events (fanned out to console and Seq), the
// allocation-light zap logger the hot parse path uses, and the OpenTelemetry
// diagnostic bridge.
package obslog

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/google/uuid"
	slogseq "github.com/sokkalf/slog-seq"
	"go.opentelemetry.io/otel"
)

// multiHandler forwards log records to multiple handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	// Enable if any handler is enabled for this level
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// SetupLogger builds the process logger and returns it with a cleanup
// function; installing it as the slog default is left to the caller.
// Every line carries the per-run correlation id so one parse run can be
// filtered out of a shared Seq instance.
func SetupLogger(seqURL string) (*slog.Logger, func()) {
	runID := uuid.New().String()

	// Console handler
	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	var handler slog.Handler = consoleHandler
	closeFn := func() {}

	// Seq handler, when a server is configured
	if seqURL != "" {
		_, seqHandler := slogseq.NewLogger(
			seqURL,
			slogseq.WithBatchSize(50),
			slogseq.WithFlushInterval(500*time.Millisecond),
			slogseq.WithHandlerOptions(&slog.HandlerOptions{
				Level: slog.LevelDebug,
			}),
		)
		if seqHandler != nil {
			handler = &multiHandler{handlers: []slog.Handler{consoleHandler, seqHandler}}
			closeFn = func() { seqHandler.Close() }
		}
	}

	logger := slog.New(handler).With("run", runID)

	// Route otel's own diagnostics through the standard logger so SDK
	// errors land next to everything else.
	var otelLog logr.Logger = stdr.New(log.New(os.Stderr, "otel ", log.LstdFlags))
	otel.SetLogger(otelLog)

	return logger, closeFn
}
