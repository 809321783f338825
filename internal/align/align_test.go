package align

import (
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

func newAligner() *Aligner {
	return NewAligner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func pageWith(rows ...[]string) entity.PageRecognitionResult {
	var words []entity.WordBlock
	for ri, row := range rows {
		x := 40
		for _, text := range row {
			words = append(words, entity.WordBlock{
				Text:       text,
				BBox:       entity.BBox{X: x, Y: 100 + 40*ri, W: 18 * len(text), H: 20},
				Confidence: 0.9,
				Region:     entity.RegionTable,
			})
			x += 18*len(text) + 12
		}
	}
	return entity.PageRecognitionResult{PageIndex: 0, Words: words, Confidence: 0.9}
}

func TestAlignMatchesRow(t *testing.T) {
	page := pageWith(
		[]string{"Blue", "Widget", "2", "5.00", "10.00"},
		[]string{"Red", "Grommet", "1", "4.00", "4.00"},
	)
	rec := entity.CandidateRecord{
		LineItems: []entity.CandidateLineItem{
			{Description: "Blue Widget"},
			{Description: "Red Grommet"},
		},
	}

	newAligner().Align(&rec, []entity.PageRecognitionResult{page})

	for i, li := range rec.LineItems {
		if li.BBox == nil {
			t.Fatalf("item %d bbox = nil, want a match", i)
		}
	}
	if rec.LineItems[0].BBox.Y != 100 {
		t.Errorf("item 1 matched row at y=%d, want 100", rec.LineItems[0].BBox.Y)
	}
	if rec.LineItems[1].BBox.Y != 140 {
		t.Errorf("item 2 matched row at y=%d, want 140", rec.LineItems[1].BBox.Y)
	}
}

func TestAlignToleratesOCRNoise(t *testing.T) {
	// recognized text differs from the description by a couple of characters
	page := pageWith([]string{"B1ue", "Wldget"})
	rec := entity.CandidateRecord{
		LineItems: []entity.CandidateLineItem{{Description: "Blue Widget"}},
	}

	newAligner().Align(&rec, []entity.PageRecognitionResult{page})

	if rec.LineItems[0].BBox == nil {
		t.Fatal("bbox = nil, want fuzzy match above the floor")
	}
}

func TestAlignBelowFloorLeavesNil(t *testing.T) {
	page := pageWith([]string{"completely", "unrelated", "words"})
	rec := entity.CandidateRecord{
		LineItems: []entity.CandidateLineItem{{Description: "Blue Widget"}},
	}

	newAligner().Align(&rec, []entity.PageRecognitionResult{page})

	if rec.LineItems[0].BBox != nil {
		t.Fatalf("bbox = %+v, want nil below similarity floor", rec.LineItems[0].BBox)
	}
}

func TestAlignDoesNotReuseWords(t *testing.T) {
	// two identical descriptions must claim two different rows
	page := pageWith(
		[]string{"House", "Lager", "24.00"},
		[]string{"House", "Lager", "24.00"},
	)
	rec := entity.CandidateRecord{
		LineItems: []entity.CandidateLineItem{
			{Description: "House Lager"},
			{Description: "House Lager"},
		},
	}

	newAligner().Align(&rec, []entity.PageRecognitionResult{page})

	a, b := rec.LineItems[0].BBox, rec.LineItems[1].BBox
	if a == nil || b == nil {
		t.Fatalf("bboxes = %v, %v; want both aligned", a, b)
	}
	if a.Y == b.Y {
		t.Errorf("both items claimed the row at y=%d; words must not be reused", a.Y)
	}
}

func TestAlignIsIdempotent(t *testing.T) {
	page := pageWith([]string{"Blue", "Widget", "2", "5.00", "10.00"})
	rec := entity.CandidateRecord{
		LineItems: []entity.CandidateLineItem{{Description: "Blue Widget"}},
	}
	pages := []entity.PageRecognitionResult{page}

	aligner := newAligner()
	aligner.Align(&rec, pages)
	first := *rec.LineItems[0].BBox

	aligner.Align(&rec, pages)
	second := *rec.LineItems[0].BBox

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second Align changed bbox: %+v -> %+v", first, second)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"blue widget", "blue widget", 1.0, 1.0},
		{"blue widget", "b1ue wldget", 0.7, 0.99},
		{"blue widget", "zzzzzzzzzzz", 0.0, 0.2},
		{"", "anything", 0.0, 0.0},
	}
	for _, tt := range tests {
		got := similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("similarity(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}
