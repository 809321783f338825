// invoiced watches one or more directories for invoices and delivery notes,
// runs each new file through the extraction pipeline and appends the
// validated records to the ledger.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/async"
	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/ingest"
	"github.com/tablewise/invoice-pipeline/internal/ledger"
	"github.com/tablewise/invoice-pipeline/internal/lifecycle"
	"github.com/tablewise/invoice-pipeline/internal/pipeline"
	"github.com/tablewise/invoice-pipeline/internal/storage"
)

func main() {
	fs := ff.NewFlagSet("invoiced")
	var (
		watch    = fs.StringLong("watch", "./inbox", "comma-separated directories to watch")
		dbPath   = fs.StringLong("db", "", "ledger database path (default LEDGER_PATH or ./invoices.db)")
		scan     = fs.BoolLong("scan", "process files already present at startup")
		debounce = fs.DurationLong("debounce", 500*time.Millisecond, "settle time before a changed file is picked up")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("INVOICED")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if *dbPath != "" {
		cfg.Ledger.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", "error", err)
		os.Exit(1)
	}

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		logger.Error("opening ledger", "path", cfg.Ledger.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	files := storage.NewLocalDir()
	tracker := lifecycle.NewTracker(lifecycle.NewSlogSink(logger))
	processor, resetLLM := pipeline.Build(cfg, tracker, store, files, logger)

	pool := async.NewPool(logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithDocumentTimeout(cfg.Pipeline.DocumentTimeout),
		async.WithSkipHandler(func(id uuid.UUID) {
			_ = tracker.Fail(id, constants.CauseCancelled, nil)
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roots := splitPaths(*watch)
	paths, watchErrs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       roots,
		InitialScan: *scan,
		Debounce:    *debounce,
	}, logger)
	if err != nil {
		logger.Error("starting watcher", "roots", roots, "error", err)
		os.Exit(1)
	}
	logger.Info("watching", "roots", roots, "workers", cfg.Pipeline.Workers)

	loader := ingest.NewLoader(logger, files)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err, ok := <-watchErrs:
			if !ok {
				break loop
			}
			logger.Warn("watcher.error", "error", err)
		case path, ok := <-paths:
			if !ok {
				break loop
			}
			enqueue(ctx, loader, tracker, pool, processor, resetLLM, path, logger)
		}
	}

	logger.Info("shutting down", "queued", pool.Depth(), "active", pool.Active())
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.DocumentTimeout)
	defer cancel()
	pool.Shutdown(drainCtx)

	c := tracker.Counters()
	logger.Info("stopped", "ready", c.Ready, "errored", c.Errored)
}

func enqueue(ctx context.Context, loader *ingest.Loader, tracker *lifecycle.Tracker, pool *async.Pool, processor *pipeline.Processor, resetLLM func(), path string, logger *slog.Logger) {
	doc, dedup, err := loader.Load(path)
	if err != nil {
		logger.Warn("ingest.rejected", "path", path, "error", err)
		return
	}
	if dedup {
		// a re-dropped file is the operator's retry signal: admit it again
		// only when the previous run ended in a transient failure
		st, ok := tracker.Status(doc.ID)
		if !ok || st.State != constants.StateError || !st.Cause.Transient() {
			return
		}
		resetLLM()
		logger.Info("ingest.retry", "doc_id", doc.ID, "cause", st.Cause)
	}
	if err := tracker.Enqueue(doc.ID); err != nil {
		logger.Warn("enqueue.refused", "doc_id", doc.ID, "error", err)
		return
	}
	if _, err := pool.Enqueue(ctx, doc.ID, func(taskCtx context.Context) error {
		_, perr := processor.Process(taskCtx, doc)
		return perr
	}); err != nil {
		logger.Warn("enqueue.failed", "doc_id", doc.ID, "error", err)
	}
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
