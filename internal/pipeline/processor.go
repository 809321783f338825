// Package pipeline coordinates one document's walk through every stage:
// rasterization, preprocessing, layout, recognition, extraction, math
// validation, alignment and the confidence gate. The processor owns the
// lifecycle transitions and writes terminal outcomes to the ledger.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/entity"
	"github.com/tablewise/invoice-pipeline/internal/ledger"
	"github.com/tablewise/invoice-pipeline/internal/lifecycle"
)

// The stage seams. Production wiring injects the real packages; tests plug
// in stubs without touching cgo or a model endpoint.
type (
	Rasterizer interface {
		Rasterize(ctx context.Context, doc *entity.SourceDocument) ([]*entity.Page, error)
	}
	Cleaner interface {
		Clean(ctx context.Context, img *image.Gray, isOriginalScan bool) (*image.Gray, string, error)
	}
	Segmenter interface {
		Segment(ctx context.Context, img *image.Gray) []entity.Region
	}
	Recognizer interface {
		RecognizePage(ctx context.Context, img *image.Gray, regions []entity.Region, pageIndex int) (entity.PageRecognitionResult, error)
	}
	Extractor interface {
		Extract(ctx context.Context, doc *entity.SourceDocument, pages []entity.PageRecognitionResult) ([]entity.CandidateRecord, error)
	}
	Verifier interface {
		Verify(rec entity.CandidateRecord) (entity.MathChecks, float64)
	}
	Aligner interface {
		Align(rec *entity.CandidateRecord, pages []entity.PageRecognitionResult)
	}
	Finalizer interface {
		Finalize(rec entity.CandidateRecord, checks entity.MathChecks, mathScore float64) entity.ValidatedRecord
	}
)

type Processor struct {
	logger       *slog.Logger
	rasterizer   Rasterizer
	cleaner      Cleaner
	segmenter    Segmenter
	recognizer   Recognizer
	extractor    Extractor
	verifier     Verifier
	aligner      Aligner
	gate         Finalizer
	tracker      *lifecycle.Tracker
	store        ledger.Store
	stageTimeout time.Duration
}

func NewProcessor(
	logger *slog.Logger,
	rasterizer Rasterizer,
	cleaner Cleaner,
	segmenter Segmenter,
	recognizer Recognizer,
	extractor Extractor,
	verifier Verifier,
	aligner Aligner,
	gate Finalizer,
	tracker *lifecycle.Tracker,
	store ledger.Store,
	stageTimeout time.Duration,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if stageTimeout <= 0 {
		stageTimeout = 60 * time.Second
	}
	return &Processor{
		logger:       logger,
		rasterizer:   rasterizer,
		cleaner:      cleaner,
		segmenter:    segmenter,
		recognizer:   recognizer,
		extractor:    extractor,
		verifier:     verifier,
		aligner:      aligner,
		gate:         gate,
		tracker:      tracker,
		store:        store,
		stageTimeout: stageTimeout,
	}
}

// Process runs the whole pipeline for one enqueued document. It returns the
// validated records on success; on failure the document lands in Error with
// a categorized cause and a ledger failure entry. Cancellation is honored
// at stage boundaries and inside the blocking engine calls.
func (p *Processor) Process(ctx context.Context, doc *entity.SourceDocument) ([]entity.ValidatedRecord, error) {
	start := time.Now()

	// rasterize
	if err := p.advance(doc, constants.StateRasterizing, nil); err != nil {
		return nil, err
	}
	pages, err := p.rasterize(ctx, doc)
	if err != nil {
		return nil, p.fail(doc, err, "rasterize")
	}

	// preprocess
	if err := p.advance(doc, constants.StatePreprocessing, map[string]any{"pages": len(pages)}); err != nil {
		return nil, err
	}
	if err := p.preprocess(ctx, doc, pages); err != nil {
		return nil, p.fail(doc, err, "preprocess")
	}

	// layout
	if err := p.advance(doc, constants.StateLayoutDetecting, nil); err != nil {
		return nil, err
	}
	regions, err := p.segment(ctx, pages)
	if err != nil {
		return nil, p.fail(doc, err, "layout")
	}

	// recognize
	if err := p.advance(doc, constants.StateRecognizing, nil); err != nil {
		return nil, err
	}
	results, err := p.recognize(ctx, pages, regions)
	if err != nil {
		return nil, p.fail(doc, err, "recognize")
	}

	// extract
	if err := p.advance(doc, constants.StateExtracting, map[string]any{"engine_confidence": meanPageConfidence(results)}); err != nil {
		return nil, err
	}
	candidates, err := p.extractor.Extract(ctx, doc, results)
	if err != nil {
		return nil, p.fail(doc, err, "extract")
	}

	// validate
	if err := p.advance(doc, constants.StateValidating, map[string]any{"records": len(candidates)}); err != nil {
		return nil, err
	}
	checks := make([]entity.MathChecks, len(candidates))
	scores := make([]float64, len(candidates))
	for i := range candidates {
		checks[i], scores[i] = p.verifier.Verify(candidates[i])
	}

	// align, then gate
	if err := p.advance(doc, constants.StateAligning, nil); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, p.fail(doc, err, "align")
	}
	validated := make([]entity.ValidatedRecord, 0, len(candidates))
	itemCount := 0
	needsReview := false
	for i := range candidates {
		p.aligner.Align(&candidates[i], results)
		vr := p.gate.Finalize(candidates[i], checks[i], scores[i])
		itemCount += len(vr.LineItems)
		needsReview = needsReview || vr.NeedsReview
		validated = append(validated, vr)
	}

	if err := p.store.SaveRecords(doc.ID, validated); err != nil {
		return nil, p.fail(doc, err, "ledger")
	}
	if err := p.advance(doc, constants.StateReady, map[string]any{
		"records":      len(validated),
		"items":        itemCount,
		"needs_review": needsReview,
		"duration_ms":  time.Since(start).Milliseconds(),
	}); err != nil {
		return nil, err
	}

	p.logger.Info("pipeline.done",
		"doc_id", doc.ID,
		"filename", doc.Filename,
		"records", len(validated),
		"items", itemCount,
		"needs_review", needsReview,
		"duration", time.Since(start))
	return validated, nil
}

func (p *Processor) rasterize(ctx context.Context, doc *entity.SourceDocument) ([]*entity.Page, error) {
	sctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	return p.rasterizer.Rasterize(sctx, doc)
}

func (p *Processor) preprocess(ctx context.Context, doc *entity.SourceDocument, pages []*entity.Page) error {
	sctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	for _, page := range pages {
		cleaned, path, err := p.cleaner.Clean(sctx, page.Image, doc.IsOriginal)
		if err != nil {
			return fmt.Errorf("page %d: %w", page.Index, err)
		}
		page.Cleaned = cleaned
		page.PathUsed = path
	}
	return nil
}

func (p *Processor) segment(ctx context.Context, pages []*entity.Page) ([][]entity.Region, error) {
	sctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	regions := make([][]entity.Region, len(pages))
	for i, page := range pages {
		if err := sctx.Err(); err != nil {
			return nil, err
		}
		regions[i] = p.segmenter.Segment(sctx, page.Cleaned)
	}
	return regions, nil
}

func (p *Processor) recognize(ctx context.Context, pages []*entity.Page, regions [][]entity.Region) ([]entity.PageRecognitionResult, error) {
	results := make([]entity.PageRecognitionResult, len(pages))
	for i, page := range pages {
		sctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
		res, err := p.recognizer.RecognizePage(sctx, page.Cleaned, regions[i], page.Index)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.Index, err)
		}
		results[i] = res
	}
	return results, nil
}

func (p *Processor) advance(doc *entity.SourceDocument, to constants.ProcessingState, metrics map[string]any) error {
	return p.tracker.Transition(doc.ID, to, metrics)
}

// fail records the categorized failure in both the lifecycle tracker and
// the ledger, then returns the original error wrapped with the stage name.
func (p *Processor) fail(doc *entity.SourceDocument, err error, stage string) error {
	cause := common.CauseOf(err)
	if trackErr := p.tracker.Fail(doc.ID, cause, map[string]any{"stage": stage}); trackErr != nil {
		p.logger.Error("pipeline.fail.track", "doc_id", doc.ID, "error", trackErr)
	}
	if saveErr := p.store.SaveFailure(ledger.Failure{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Cause:      cause,
		Message:    err.Error(),
		At:         time.Now().UTC(),
	}); saveErr != nil {
		p.logger.Error("pipeline.fail.ledger", "doc_id", doc.ID, "error", saveErr)
	}
	p.logger.Error("pipeline.failed",
		"doc_id", doc.ID,
		"stage", stage,
		"cause", string(cause),
		"error", err)
	return fmt.Errorf("%s: %w", stage, err)
}

func meanPageConfidence(results []entity.PageRecognitionResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	return sum / float64(len(results))
}
