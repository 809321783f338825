// Package extract turns recognized page text and word geometry into
// candidate records. Strategies run in a fixed order; the first one that
// produces a parseable record wins, and the record carries the name of the
// strategy that produced it.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/entity"
)

// Input is one logical document: the pages grouped by continuation
// detection, with the assembled text and mean recognition confidence.
type Input struct {
	Document *entity.SourceDocument
	Pages    []entity.PageRecognitionResult
	Text     string
}

// PageIndices lists the page numbers this input spans.
func (in Input) PageIndices() []int {
	idx := make([]int, len(in.Pages))
	for i, p := range in.Pages {
		idx[i] = p.PageIndex
	}
	return idx
}

// RecognitionConfidence averages the per-page mean word confidences.
// Pages without words contribute 0, never a default.
func (in Input) RecognitionConfidence() float64 {
	if len(in.Pages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range in.Pages {
		sum += p.Confidence
	}
	return sum / float64(len(in.Pages))
}

// Strategy is one way of turning page text into a candidate record.
type Strategy interface {
	Name() entity.ExtractionStrategy
	Extract(ctx context.Context, in Input) (entity.CandidateRecord, error)
}

// Extractor runs its strategies in order per logical document. Strategy
// order is fixed at construction; callers pass the LLM strategy first and
// the geometric strategy last.
type Extractor struct {
	strategies []Strategy
	logger     *slog.Logger
}

func NewExtractor(logger *slog.Logger, strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies, logger: logger}
}

// Extract splits the recognized pages into logical documents and produces
// one candidate record per document. Cancellation and deadline errors abort
// immediately; any other strategy failure falls through to the next
// strategy in the list.
func (e *Extractor) Extract(ctx context.Context, doc *entity.SourceDocument, pages []entity.PageRecognitionResult) ([]entity.CandidateRecord, error) {
	groups := GroupPages(pages)
	records := make([]entity.CandidateRecord, 0, len(groups))

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in := Input{
			Document: doc,
			Pages:    group,
			Text:     assembleText(group),
		}
		rec, err := e.extractOne(ctx, in)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (e *Extractor) extractOne(ctx context.Context, in Input) (entity.CandidateRecord, error) {
	var lastErr error
	for _, s := range e.strategies {
		rec, err := s.Extract(ctx, in)
		if err == nil {
			e.finish(&rec, in)
			e.logger.Info("extract.strategy.ok",
				"strategy", string(s.Name()),
				"pages", len(in.Pages),
				"items", len(rec.LineItems),
				"supplier", rec.SupplierName)
			return rec, nil
		}
		if cause := common.CauseOf(err); cause == constants.CauseCancelled || cause == constants.CauseTimeout {
			return entity.CandidateRecord{}, err
		}
		e.logger.Warn("extract.strategy.failed",
			"strategy", string(s.Name()),
			"error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = common.ErrEngineUnavailable
	}
	return entity.CandidateRecord{}, common.WrapError(lastErr, "all extraction strategies failed")
}

// finish applies the strategy-independent invariants: identity, page span,
// recognition confidence, document type, derived quantities and placeholder
// labels for blank descriptions. Items are labeled rather than dropped so
// row counts survive into review.
func (e *Extractor) finish(rec *entity.CandidateRecord, in Input) {
	if in.Document != nil {
		rec.DocumentID = in.Document.ID
	}
	rec.PageIndices = in.PageIndices()
	rec.RecognitionConfidence = in.RecognitionConfidence()
	if rec.DocumentType == "" || rec.DocumentType == constants.UnknownDoc {
		rec.DocumentType = groupDocumentType(in.Pages)
	}
	for i := range rec.LineItems {
		li := &rec.LineItems[i]
		li.Description = strings.TrimSpace(li.Description)
		if li.Description == "" {
			li.Description = fmt.Sprintf("Item %d", i+1)
		}
		deriveQuantity(li)
	}
}

// deriveQuantity fills a missing quantity from total / unit price when both
// are present, and otherwise reads a priced row as a single unit. An explicit
// quantity is never overwritten.
func deriveQuantity(li *entity.CandidateLineItem) {
	if li.Quantity != nil {
		return
	}
	if li.UnitPrice != nil && li.LineTotal != nil && *li.UnitPrice > 0 {
		q := *li.LineTotal / *li.UnitPrice
		li.Quantity = entity.Ptr(q)
		return
	}
	if li.LineTotal != nil {
		li.Quantity = entity.Ptr(1.0)
	}
}

// assembleText joins the page texts with blank lines between pages.
func assembleText(pages []entity.PageRecognitionResult) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if t := p.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// groupDocumentType returns the first known page-level classification in the
// group; a continuation page inherits the type of the page that opened it.
func groupDocumentType(pages []entity.PageRecognitionResult) constants.DocumentType {
	for _, p := range pages {
		if dt := p.DocumentTypeOf(); dt != constants.UnknownDoc {
			return dt
		}
	}
	return constants.UnknownDoc
}
