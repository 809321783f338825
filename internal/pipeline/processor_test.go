package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/align"
	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/entity"
	"github.com/tablewise/invoice-pipeline/internal/gate"
	"github.com/tablewise/invoice-pipeline/internal/ledger"
	"github.com/tablewise/invoice-pipeline/internal/lifecycle"
	"github.com/tablewise/invoice-pipeline/internal/verify"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRaster struct{ err error }

func (f *fakeRaster) Rasterize(_ context.Context, _ *entity.SourceDocument) ([]*entity.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*entity.Page{{Index: 0, Image: image.NewGray(image.Rect(0, 0, 100, 140))}}, nil
}

type fakeCleaner struct{}

func (fakeCleaner) Clean(_ context.Context, img *image.Gray, _ bool) (*image.Gray, string, error) {
	return img, "enhanced", nil
}

type fakeSegmenter struct{}

func (fakeSegmenter) Segment(_ context.Context, _ *image.Gray) []entity.Region {
	return []entity.Region{
		{Type: entity.RegionHeader, BBox: entity.BBox{X: 0, Y: 0, W: 100, H: 20}, Source: entity.RegionFromModel},
		{Type: entity.RegionTable, BBox: entity.BBox{X: 0, Y: 20, W: 100, H: 100}, Source: entity.RegionFromModel},
	}
}

type fakeRecognizer struct {
	confidence float64
	err        error
}

func (f *fakeRecognizer) RecognizePage(_ context.Context, _ *image.Gray, _ []entity.Region, pageIndex int) (entity.PageRecognitionResult, error) {
	if f.err != nil {
		return entity.PageRecognitionResult{}, f.err
	}
	words := []entity.WordBlock{
		{Text: "INVOICE", BBox: entity.BBox{X: 5, Y: 5, W: 60, H: 10}, Confidence: f.confidence, Region: entity.RegionHeader},
		{Text: "Widget", BBox: entity.BBox{X: 5, Y: 40, W: 40, H: 10}, Confidence: f.confidence, Region: entity.RegionTable},
		{Text: "10.00", BBox: entity.BBox{X: 60, Y: 40, W: 30, H: 10}, Confidence: f.confidence, Region: entity.RegionTable},
	}
	return entity.PageRecognitionResult{
		PageIndex:  pageIndex,
		Words:      words,
		Engine:     entity.EnginePrimary,
		Confidence: f.confidence,
	}, nil
}

type fakeExtractor struct {
	err     error
	badMath bool
}

func (f *fakeExtractor) Extract(_ context.Context, doc *entity.SourceDocument, pages []entity.PageRecognitionResult) ([]entity.CandidateRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	conf := 0.0
	if len(pages) > 0 {
		conf = pages[0].Confidence
	}
	rec := entity.CandidateRecord{
		DocumentID:    doc.ID,
		DocumentType:  constants.Invoice,
		SupplierName:  "ACME Ltd",
		InvoiceNumber: "INV-1",
		GrandTotal:    entity.Ptr(10.00),
		Subtotal:      entity.Ptr(10.00),
		TaxAmount:     entity.Ptr(0.00),
		LineItems: []entity.CandidateLineItem{
			{Description: "Widget 10.00", Quantity: entity.Ptr(1.0), UnitPrice: entity.Ptr(10.0), LineTotal: entity.Ptr(10.0), Confidence: conf},
		},
		Strategy:              entity.StrategyLLM,
		RecognitionConfidence: conf,
	}
	if f.badMath {
		// every check fails: 2 x 10.00 != 99.00, sum != 50.00, 50 + 10 != 90
		rec.Subtotal = entity.Ptr(50.00)
		rec.TaxAmount = entity.Ptr(10.00)
		rec.GrandTotal = entity.Ptr(90.00)
		rec.LineItems[0].Quantity = entity.Ptr(2.0)
		rec.LineItems[0].LineTotal = entity.Ptr(99.00)
	}
	return []entity.CandidateRecord{rec}, nil
}

type env struct {
	processor *Processor
	tracker   *lifecycle.Tracker
	store     *ledger.BoltStore
	doc       *entity.SourceDocument
}

func newEnv(t *testing.T, rast *fakeRaster, rec *fakeRecognizer, ext *fakeExtractor) *env {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tracker := lifecycle.NewTracker(lifecycle.NewSlogSink(discard()))
	p := NewProcessor(
		discard(),
		rast,
		fakeCleaner{},
		fakeSegmenter{},
		rec,
		ext,
		verify.NewVerifier(discard()),
		align.NewAligner(discard()),
		gate.NewGate(0, discard()),
		tracker,
		store,
		5*time.Second,
	)

	doc := &entity.SourceDocument{ID: uuid.New(), Filename: "inv.pdf", Format: constants.PDF}
	if err := tracker.Enqueue(doc.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return &env{processor: p, tracker: tracker, store: store, doc: doc}
}

func TestProcessHappyPath(t *testing.T) {
	e := newEnv(t, &fakeRaster{}, &fakeRecognizer{confidence: 0.9}, &fakeExtractor{})

	records, err := e.processor.Process(context.Background(), e.doc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	vr := records[0]
	if vr.NeedsReview {
		t.Error("high-confidence run must not need review")
	}
	if vr.MathIntegrityScore != 1.0 {
		t.Errorf("math score = %v, want 1.0", vr.MathIntegrityScore)
	}
	if len(vr.LineItems) != 1 {
		t.Fatalf("items = %d, want 1", len(vr.LineItems))
	}
	if vr.LineItems[0].BBox == nil {
		t.Error("line item bbox = nil, want aligned row")
	}

	st, _ := e.tracker.Status(e.doc.ID)
	if st.State != constants.StateReady {
		t.Errorf("state = %s, want READY", st.State)
	}

	stored, err := e.store.RecordsFor(e.doc.ID)
	if err != nil || len(stored) != 1 {
		t.Errorf("ledger records = %d (err %v), want 1", len(stored), err)
	}
}

func TestProcessEngineUnavailable(t *testing.T) {
	e := newEnv(t, &fakeRaster{}, &fakeRecognizer{err: common.ErrEngineUnavailable}, &fakeExtractor{})

	_, err := e.processor.Process(context.Background(), e.doc)
	if !errors.Is(err, common.ErrEngineUnavailable) {
		t.Fatalf("err = %v, want ErrEngineUnavailable", err)
	}

	st, _ := e.tracker.Status(e.doc.ID)
	if st.State != constants.StateError || st.Cause != constants.CauseEngineUnavailable {
		t.Errorf("status = %+v, want Error/ENGINE_UNAVAILABLE", st)
	}

	failures, _ := e.store.ListFailures()
	if len(failures) != 1 || failures[0].Cause != constants.CauseEngineUnavailable {
		t.Errorf("failures = %+v, want one ENGINE_UNAVAILABLE entry", failures)
	}
}

func TestProcessCancellation(t *testing.T) {
	e := newEnv(t, &fakeRaster{err: context.Canceled}, &fakeRecognizer{confidence: 0.9}, &fakeExtractor{})

	_, err := e.processor.Process(context.Background(), e.doc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	st, _ := e.tracker.Status(e.doc.ID)
	if st.State != constants.StateError || st.Cause != constants.CauseCancelled {
		t.Errorf("status = %+v, want Error/CANCELLED", st)
	}
}

func TestProcessModerateConfidencePassesGate(t *testing.T) {
	e := newEnv(t, &fakeRaster{}, &fakeRecognizer{confidence: 0.1}, &fakeExtractor{})

	records, err := e.processor.Process(context.Background(), e.doc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	vr := records[0]
	if vr.MathIntegrityScore != 1.0 {
		t.Fatalf("math score = %v, want 1.0 (arithmetic is consistent)", vr.MathIntegrityScore)
	}
	// 0.6*0.1 + 0.4*1.0 = 0.46, above the gate; items survive
	if vr.NeedsReview || len(vr.LineItems) != 1 {
		t.Errorf("needs_review=%v items=%d, want false/1", vr.NeedsReview, len(vr.LineItems))
	}
}

func TestProcessLowConfidenceReachesReadyNeedingReview(t *testing.T) {
	// zero recognition confidence plus failing arithmetic lands under the
	// gate: the run still reaches Ready, holding only header fields
	e := newEnv(t, &fakeRaster{}, &fakeRecognizer{confidence: 0.0}, &fakeExtractor{badMath: true})

	records, err := e.processor.Process(context.Background(), e.doc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	vr := records[0]
	if !vr.NeedsReview {
		t.Error("want needs_review below the gate")
	}
	if len(vr.LineItems) != 0 {
		t.Errorf("items = %d, want 0 (dropped below the gate)", len(vr.LineItems))
	}
	if vr.SupplierName != "ACME Ltd" {
		t.Errorf("supplier = %q, header fields must survive", vr.SupplierName)
	}

	st, _ := e.tracker.Status(e.doc.ID)
	if st.State != constants.StateReady {
		t.Errorf("state = %s, want READY (low confidence is not an error)", st.State)
	}
}

func TestProcessFailureAfterReadyIsRejected(t *testing.T) {
	e := newEnv(t, &fakeRaster{}, &fakeRecognizer{confidence: 0.9}, &fakeExtractor{})
	if _, err := e.processor.Process(context.Background(), e.doc); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := e.tracker.Fail(e.doc.ID, constants.CauseTimeout, nil); err == nil {
		t.Error("Fail after Ready must be rejected")
	}
}
