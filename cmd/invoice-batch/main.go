// invoice-batch processes a directory of invoices and delivery notes in one
// pass and writes the validated records to an XLSX workbook.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/async"
	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/export"
	"github.com/tablewise/invoice-pipeline/internal/ingest"
	"github.com/tablewise/invoice-pipeline/internal/ledger"
	"github.com/tablewise/invoice-pipeline/internal/lifecycle"
	"github.com/tablewise/invoice-pipeline/internal/pipeline"
	"github.com/tablewise/invoice-pipeline/internal/storage"
)

func main() {
	fs := ff.NewFlagSet("invoice-batch")
	var (
		dir     = fs.StringLong("dir", "", "directory of documents to process (required)")
		out     = fs.StringLong("out", "", "output XLSX path (default <dir>/../invoices.xlsx)")
		dbPath  = fs.StringLong("db", "", "ledger database path (default LEDGER_PATH or ./invoices.db)")
		fromStr = fs.StringLong("from", "", "export window start, YYYY-MM-DD")
		toStr   = fs.StringLong("to", "", "export window end, YYYY-MM-DD")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("INVOICE_BATCH")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dir == "" {
		fmt.Fprintln(os.Stderr, "error: --dir is required")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "invoices.xlsx")
	}

	from, err := parseDate(*fromStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid --from: %v\n", err)
		os.Exit(1)
	}
	to, err := parseDate(*toStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid --to: %v\n", err)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		logger.Error("opening ledger", "path", cfg.Ledger.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	files := storage.NewLocalDir()
	tracker := lifecycle.NewTracker(lifecycle.NewSlogSink(logger))
	processor, _ := pipeline.Build(cfg, tracker, store, files, logger)

	loader := ingest.NewLoader(logger, files)
	docs, stats, err := loader.LoadDirectory(ctx, *dir, true)
	if err != nil {
		logger.Error("scanning directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	logger.Info("directory scanned",
		"dir", *dir,
		"matched", stats.Matched,
		"loaded", stats.Succeeded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed)
	if len(docs) == 0 {
		logger.Info("nothing to process")
		return
	}

	pool := async.NewPool(logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(len(docs)),
		async.WithDocumentTimeout(cfg.Pipeline.DocumentTimeout),
		async.WithSkipHandler(func(id uuid.UUID) {
			_ = tracker.Fail(id, constants.CauseCancelled, nil)
		}),
	)

	tasks := make([]*async.Task, 0, len(docs))
	for _, doc := range docs {
		if err := tracker.Enqueue(doc.ID); err != nil {
			logger.Warn("enqueue.refused", "doc_id", doc.ID, "error", err)
			continue
		}
		task, err := pool.Enqueue(ctx, doc.ID, func(taskCtx context.Context) error {
			_, perr := processor.Process(taskCtx, doc)
			return perr
		})
		if err != nil {
			logger.Warn("enqueue.failed", "doc_id", doc.ID, "error", err)
			continue
		}
		tasks = append(tasks, task)
	}

	for _, task := range tasks {
		// the pool enforces the per-document budget, so waiting without a
		// deadline cannot hang
		if err := task.Wait(0); err != nil {
			logger.Warn("document failed", "error", err)
		}
	}
	pool.Shutdown(ctx)

	c := tracker.Counters()
	logger.Info("batch complete", "ready", c.Ready, "errored", c.Errored)

	data, err := export.NewService(store, logger).ExportXLSX(from, to)
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.Error("writing workbook", "path", *out, "error", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d processed, %d failed)\n", *out, c.Ready, c.Errored)
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
