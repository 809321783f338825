package verify

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

func newVerifier() *Verifier {
	return NewVerifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func item(qty, unit, total float64) entity.CandidateLineItem {
	return entity.CandidateLineItem{
		Description: "item",
		Quantity:    entity.Ptr(qty),
		UnitPrice:   entity.Ptr(unit),
		LineTotal:   entity.Ptr(total),
	}
}

func TestVerifyLineTotals(t *testing.T) {
	tests := []struct {
		name      string
		items     []entity.CandidateLineItem
		wantOK    bool
		wantScore float64
	}{
		{
			name:      "exact product passes",
			items:     []entity.CandidateLineItem{item(10, 5.00, 50.00)},
			wantOK:    true,
			wantScore: 1.0,
		},
		{
			name:      "ten percent off fails and costs the penalty",
			items:     []entity.CandidateLineItem{item(10, 5.00, 55.00)},
			wantOK:    false,
			wantScore: 0.85,
		},
		{
			name:      "penny rounding passes",
			items:     []entity.CandidateLineItem{item(3, 0.33, 1.00)},
			wantOK:    true,
			wantScore: 1.0,
		},
		{
			name:      "beyond a penny still fails",
			items:     []entity.CandidateLineItem{item(3, 0.33, 1.02)}, // off by 0.03, outside the band
			wantOK:    false,
			wantScore: 0.85,
		},
		{
			name:      "one percent tolerance scales with the total",
			items:     []entity.CandidateLineItem{item(100, 8.90, 894.54)}, // off by 4.54, inside the 8.95 band
			wantOK:    true,
			wantScore: 1.0,
		},
		{
			name: "missing quantity passes vacuously",
			items: []entity.CandidateLineItem{{
				Description: "item",
				LineTotal:   entity.Ptr(42.00),
			}},
			wantOK:    true,
			wantScore: 1.0,
		},
	}

	v := newVerifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := entity.CandidateRecord{LineItems: tt.items}
			checks, score := v.Verify(rec)
			if checks.LineTotalsOK != tt.wantOK {
				t.Errorf("LineTotalsOK = %v, want %v", checks.LineTotalsOK, tt.wantOK)
			}
			if math.Abs(score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %v, want %v", score, tt.wantScore)
			}
		})
	}
}

func TestVerifySubtotalAndGrandTotal(t *testing.T) {
	rec := entity.CandidateRecord{
		LineItems:  []entity.CandidateLineItem{item(2, 10.00, 20.00), item(1, 44.00, 44.00)},
		Subtotal:   entity.Ptr(64.00),
		TaxAmount:  entity.Ptr(12.80),
		GrandTotal: entity.Ptr(76.80),
	}
	checks, score := newVerifier().Verify(rec)
	if !checks.LineTotalsOK || !checks.SubtotalOK || !checks.GrandTotalOK {
		t.Fatalf("checks = %+v, want all passing", checks)
	}
	if score != 1.0 {
		t.Errorf("score = %v, want 1.0", score)
	}
}

func TestVerifyAllChecksFail(t *testing.T) {
	rec := entity.CandidateRecord{
		LineItems:  []entity.CandidateLineItem{item(2, 10.00, 99.00)},
		Subtotal:   entity.Ptr(50.00),
		TaxAmount:  entity.Ptr(10.00),
		GrandTotal: entity.Ptr(90.00),
	}
	checks, score := newVerifier().Verify(rec)
	if checks.LineTotalsOK || checks.SubtotalOK || checks.GrandTotalOK {
		t.Fatalf("checks = %+v, want all failing", checks)
	}
	if math.Abs(score-0.55) > 1e-9 {
		t.Errorf("score = %v, want 0.55", score)
	}
}

func TestVerifyScoreFloorsAtZero(t *testing.T) {
	// three failures only reach 0.55; the floor is exercised through the
	// exported behavior by checking it never goes negative
	rec := entity.CandidateRecord{
		LineItems:  []entity.CandidateLineItem{item(1, 1.00, 9.00)},
		Subtotal:   entity.Ptr(1.00),
		TaxAmount:  entity.Ptr(1.00),
		GrandTotal: entity.Ptr(99.00),
	}
	_, score := newVerifier().Verify(rec)
	if score < 0 {
		t.Errorf("score = %v, want >= 0", score)
	}
}

func TestVerifyMissingHeaderTotalsPass(t *testing.T) {
	rec := entity.CandidateRecord{
		LineItems: []entity.CandidateLineItem{item(2, 5.00, 10.00)},
	}
	checks, score := newVerifier().Verify(rec)
	if !checks.SubtotalOK || !checks.GrandTotalOK {
		t.Fatalf("checks = %+v, absent totals must pass vacuously", checks)
	}
	if score != 1.0 {
		t.Errorf("score = %v, want 1.0", score)
	}
}
