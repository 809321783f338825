// Package gate makes the single retention decision of the pipeline. A
// record below the confidence floor keeps its header fields and loses its
// line items; the document is never failed outright because partial
// information is still worth a review.
package gate

import (
	"log/slog"
	"time"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

const (
	// DefaultFloor is the overall-confidence threshold below which line
	// items are dropped and the record is flagged for review.
	DefaultFloor = 0.25

	recognitionWeight = 0.6
	mathWeight        = 0.4
)

type Gate struct {
	floor  float64
	logger *slog.Logger
}

// NewGate builds a gate with the given floor; zero or negative means
// DefaultFloor.
func NewGate(floor float64, logger *slog.Logger) *Gate {
	if floor <= 0 {
		floor = DefaultFloor
	}
	return &Gate{floor: floor, logger: logger}
}

// Finalize blends recognition confidence with the math integrity score and
// applies the retention rule. Above the floor every structurally valid item
// survives regardless of its individual confidence; below it only the
// header fields do.
func (g *Gate) Finalize(rec entity.CandidateRecord, checks entity.MathChecks, mathScore float64) entity.ValidatedRecord {
	overall := recognitionWeight*rec.RecognitionConfidence + mathWeight*mathScore

	vr := entity.ValidatedRecord{
		CandidateRecord:    rec,
		OverallConfidence:  overall,
		MathIntegrityScore: mathScore,
		Checks:             checks,
		CompletedAt:        time.Now().UTC(),
	}

	if overall < g.floor {
		vr.LineItems = nil
		vr.NeedsReview = true
		g.logger.Warn("gate.needs_review",
			"doc_id", rec.DocumentID,
			"overall_confidence", overall,
			"floor", g.floor,
			"items_dropped", len(rec.LineItems))
		return vr
	}

	kept := rec.LineItems[:0:0]
	for _, li := range rec.LineItems {
		if li.StructurallyValid() {
			kept = append(kept, li)
		}
	}
	vr.LineItems = kept

	g.logger.Info("gate.accepted",
		"doc_id", rec.DocumentID,
		"overall_confidence", overall,
		"items_kept", len(kept),
		"items_rejected", len(rec.LineItems)-len(kept))
	return vr
}
