// Package verify scores a candidate record's arithmetic consistency. It
// annotates, never discards; retention is decided downstream by the
// confidence gate.
package verify

import (
	"log/slog"
	"math"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

const (
	// checkPenalty is subtracted from the starting score for each failed
	// check, floored at zero.
	checkPenalty = 0.15

	// pennyFloor and twoPennyFloor are the absolute tolerance floors: OCR
	// rounding on a single cell is worth a penny, accumulated rounding
	// across a column is worth two.
	pennyFloor    = 0.01
	twoPennyFloor = 0.02

	relativeTolerance = 0.01

	// floatSlack absorbs binary float error so an exactly-on-tolerance
	// discrepancy (3 x 0.33 vs 1.00) still passes.
	floatSlack = 1e-9
)

// Verifier runs the three arithmetic checks and computes mathIntegrityScore.
type Verifier struct {
	logger *slog.Logger
}

func NewVerifier(logger *slog.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// Verify annotates rec with per-check flags and a score in [0,1]. Checks
// whose inputs are absent pass vacuously; a missing subtotal is a gap, not a
// contradiction.
func (v *Verifier) Verify(rec entity.CandidateRecord) (entity.MathChecks, float64) {
	checks := entity.MathChecks{
		LineTotalsOK: lineTotalsConsistent(rec.LineItems),
		SubtotalOK:   subtotalConsistent(rec),
		GrandTotalOK: grandTotalConsistent(rec),
	}

	score := 1.0
	for _, ok := range []bool{checks.LineTotalsOK, checks.SubtotalOK, checks.GrandTotalOK} {
		if !ok {
			score -= checkPenalty
		}
	}
	if score < 0 {
		score = 0
	}

	v.logger.Debug("verify.done",
		"doc_id", rec.DocumentID,
		"line_totals_ok", checks.LineTotalsOK,
		"subtotal_ok", checks.SubtotalOK,
		"grand_total_ok", checks.GrandTotalOK,
		"score", score)
	return checks, score
}

// lineTotalsConsistent checks qty × unit price against the stated line total
// for every item that carries all three values.
func lineTotalsConsistent(items []entity.CandidateLineItem) bool {
	for _, li := range items {
		if li.Quantity == nil || li.UnitPrice == nil || li.LineTotal == nil {
			continue
		}
		expected := *li.Quantity * *li.UnitPrice
		if !within(expected, *li.LineTotal, pennyFloor) {
			return false
		}
	}
	return true
}

// subtotalConsistent checks the sum of stated line totals against the stated
// subtotal.
func subtotalConsistent(rec entity.CandidateRecord) bool {
	if rec.Subtotal == nil {
		return true
	}
	var sum float64
	counted := 0
	for _, li := range rec.LineItems {
		if li.LineTotal != nil {
			sum += *li.LineTotal
			counted++
		}
	}
	if counted == 0 {
		return true
	}
	return within(sum, *rec.Subtotal, twoPennyFloor)
}

// grandTotalConsistent checks subtotal + tax against the stated grand total.
func grandTotalConsistent(rec entity.CandidateRecord) bool {
	if rec.Subtotal == nil || rec.TaxAmount == nil || rec.GrandTotal == nil {
		return true
	}
	return within(*rec.Subtotal+*rec.TaxAmount, *rec.GrandTotal, twoPennyFloor)
}

// within applies the tolerance rule: 1% of the stated value or the absolute
// floor, whichever is larger.
func within(got, stated, floor float64) bool {
	tol := math.Max(floor, relativeTolerance*math.Abs(stated))
	return math.Abs(got-stated) <= tol+floatSlack
}
