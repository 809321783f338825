package pipeline

import (
	"log/slog"

	"github.com/tablewise/invoice-pipeline/internal/align"
	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/extract"
	"github.com/tablewise/invoice-pipeline/internal/gate"
	"github.com/tablewise/invoice-pipeline/internal/layout"
	"github.com/tablewise/invoice-pipeline/internal/ledger"
	"github.com/tablewise/invoice-pipeline/internal/lifecycle"
	"github.com/tablewise/invoice-pipeline/internal/llm"
	"github.com/tablewise/invoice-pipeline/internal/llm/openai"
	"github.com/tablewise/invoice-pipeline/internal/preprocess"
	"github.com/tablewise/invoice-pipeline/internal/raster"
	"github.com/tablewise/invoice-pipeline/internal/recognize"
	"github.com/tablewise/invoice-pipeline/internal/storage"
	"github.com/tablewise/invoice-pipeline/internal/verify"
)

// Build wires the production stages from configuration. The recognition
// engine doubles as the preprocessing probe so both paths score images with
// the same engine that will read them.
//
// The returned reset function closes the LLM circuit breaker; callers invoke
// it when re-enqueueing a document whose previous run failed transiently, so
// the retry gets a live LLM strategy instead of inheriting an open circuit.
func Build(cfg *common.Config, tracker *lifecycle.Tracker, store ledger.Store, files storage.Storage, logger *slog.Logger) (*Processor, func()) {
	rasterizer := raster.New(raster.Config{
		DPI:      cfg.Preprocess.DPI,
		MaxPages: cfg.Preprocess.MaxPages,
	}, files, logger)

	engine := recognize.NewEngine(
		[]recognize.Recognizer{
			recognize.NewGosseractEngine(cfg.Recognition.Language, cfg.Recognition.TessdataDir),
			recognize.NewTSVEngine(cfg.Recognition.Tesseract, cfg.Recognition.Language, cfg.Recognition.TessdataDir),
		},
		cfg.Recognition.ConfidenceFloor,
		cfg.Recognition.CallTimeout,
		logger,
	)
	selector := preprocess.NewSelector(cfg.Preprocess.DualPath, engine, logger)
	segmenter := layout.NewSegmenter(
		layout.NewTesseractModel(cfg.Recognition.Language, cfg.Recognition.TessdataDir),
		logger,
	)

	resetLLM := func() {}
	var strategies []extract.Strategy
	if !cfg.LLM.Disabled {
		client := openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.CallTimeout,
			Retry: llm.RetryPolicy{
				MaxRetries:     cfg.LLM.MaxRetries,
				InitialBackoff: cfg.LLM.InitialBackoff,
				MaxBackoff:     cfg.LLM.MaxBackoff,
				BreakerTrips:   cfg.LLM.BreakerTrips,
			},
		}, logger)
		strategies = append(strategies, extract.NewLLMStrategy(client, logger))
		resetLLM = client.ResetBreaker
	}
	strategies = append(strategies, extract.NewGeometricStrategy(logger))

	processor := NewProcessor(
		logger,
		rasterizer,
		selector,
		segmenter,
		engine,
		extract.NewExtractor(logger, strategies...),
		verify.NewVerifier(logger),
		align.NewAligner(logger),
		gate.NewGate(cfg.Pipeline.ConfidenceFloor, logger),
		tracker,
		store,
		cfg.Pipeline.StageTimeout,
	)
	return processor, resetLLM
}
