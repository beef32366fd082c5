// Command redoreplay parses one archived redo log file from disk and
// replays its committed transactions to a logging sink. It is the
// demonstration harness for the parser core; production deployments embed
// the core behind their own sources and sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/leengari/oracdc/internal/checkpoint"
	"github.com/leengari/oracdc/internal/core"
	"github.com/leengari/oracdc/internal/obslog"
	"github.com/leengari/oracdc/internal/redo"
	"github.com/leengari/oracdc/internal/sink"
	"github.com/leengari/oracdc/internal/txn"
)

func main() {
	logPath := flag.String("log", "", "Path to the redo log file to replay")
	stateDir := flag.String("state", "state", "Directory for checkpoint state")
	seqURL := flag.String("seq", "", "Seq server URL for structured logs (empty: console only)")
	debug := flag.Bool("debug", false, "Enable hot-path debug logging")
	txMax := flag.Uint64("tx-max", 0, "Transaction size ceiling in bytes (0: unbounded)")
	ignoreDataErrors := flag.Bool("ignore-data-errors", false, "Skip undecodable vectors instead of aborting")
	showIncomplete := flag.Bool("show-incomplete", false, "Emit transactions that began before the start of the log")
	flag.Parse()

	logger, closeLog := obslog.SetupLogger(*seqURL)
	defer closeLog()
	slog.SetDefault(logger)

	if *logPath == "" {
		slog.Error("missing -log")
		os.Exit(2)
	}

	hot, closeHot := obslog.NewHotPath(*debug)
	defer closeHot()

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", "redoreplay"),
		)),
	)
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	store, err := checkpoint.NewFileStore(*stateDir)
	if err != nil {
		slog.Error("failed to open state store", "error", err)
		os.Exit(1)
	}

	src := sink.NewFileSource(*logPath)
	emitter := &sink.LogEmitter{Log: logger}

	parser := core.New(src, nil, emitter, store, core.Config{
		Txn: txn.Config{
			TransactionSizeMax:         *txMax,
			IgnoreDataErrors:           *ignoreDataErrors,
			ShowIncompleteTransactions: *showIncomplete,
		},
	}, logger, hot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		slog.Info("shutdown requested")
		parser.Shutdown()
	}()

	slog.Info("starting replay", "log", *logPath)
	if err := parser.Run(ctx); err != nil {
		var overwritten *redo.Overwritten
		if errors.As(err, &overwritten) {
			slog.Warn("log was overwritten while reading; restart from checkpoint", "block", overwritten.Offset.Block)
			os.Exit(3)
		}
		slog.Error("replay failed", "error", err)
		os.Exit(1)
	}
	hdr := parser.Header()
	slog.Info("replay complete", "sequence", uint32(hdr.Seq), "first_scn", hdr.FirstScn.String())
}
