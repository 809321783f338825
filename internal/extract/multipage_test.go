package extract

import (
	"testing"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

// invoicePage builds a page with an invoice banner and a table. When full is
// true the table's last row sits at the page's bottom edge.
func invoicePage(idx int, banner string, full bool) entity.PageRecognitionResult {
	var words []entity.WordBlock
	if banner != "" {
		words = append(words, rowWords(20, entity.RegionHeader, banner)...)
	}
	words = append(words, rowWords(200, entity.RegionTable, "Apples", "2", "3.00", "6.00")...)
	if full {
		words = append(words, rowWords(990, entity.RegionTable, "Pears", "1", "4.00", "4.00")...)
	} else {
		// footer ink well below the table keeps the table off the bottom
		words = append(words, rowWords(990, entity.RegionFooter, "Thank", "you")...)
	}
	return entity.PageRecognitionResult{PageIndex: idx, Words: words, Confidence: 0.8}
}

func TestGroupPages(t *testing.T) {
	tests := []struct {
		name  string
		pages []entity.PageRecognitionResult
		want  [][]int // page indices per group
	}{
		{
			name:  "single page",
			pages: []entity.PageRecognitionResult{invoicePage(0, "INVOICE", false)},
			want:  [][]int{{0}},
		},
		{
			name: "bannerless page continues the invoice",
			pages: []entity.PageRecognitionResult{
				invoicePage(0, "INVOICE", true),
				invoicePage(1, "", false),
			},
			want: [][]int{{0, 1}},
		},
		{
			name: "overflowing table keeps a repeated banner in the same document",
			pages: []entity.PageRecognitionResult{
				invoicePage(0, "INVOICE", true),
				invoicePage(1, "INVOICE", false),
			},
			want: [][]int{{0, 1}},
		},
		{
			name: "repeated banner after a clean page break starts a new document",
			pages: []entity.PageRecognitionResult{
				invoicePage(0, "INVOICE", false),
				invoicePage(1, "INVOICE", false),
			},
			want: [][]int{{0}, {1}},
		},
		{
			name: "delivery note behind an invoice always splits",
			pages: []entity.PageRecognitionResult{
				invoicePage(0, "INVOICE", true),
				invoicePage(1, "DELIVERY NOTE", false),
			},
			want: [][]int{{0}, {1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := GroupPages(tt.pages)
			if len(groups) != len(tt.want) {
				t.Fatalf("got %d groups, want %d", len(groups), len(tt.want))
			}
			for gi, wantIdx := range tt.want {
				if len(groups[gi]) != len(wantIdx) {
					t.Fatalf("group %d has %d pages, want %d", gi, len(groups[gi]), len(wantIdx))
				}
				for pi, idx := range wantIdx {
					if groups[gi][pi].PageIndex != idx {
						t.Errorf("group %d page %d = index %d, want %d", gi, pi, groups[gi][pi].PageIndex, idx)
					}
				}
			}
		})
	}
}
