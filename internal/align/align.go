// Package align resolves each extracted line item back to a rectangle on
// the page by fuzzy-matching its description against windows of recognized
// words. Alignment is best-effort: an unmatched item keeps a nil bbox,
// which only disables spatial highlighting downstream.
package align

import (
	"log/slog"
	"strings"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

// similarityFloor is the minimum normalized similarity for a window to
// claim a line item.
const similarityFloor = 0.6

// windowSlack widens the candidate window length around the description's
// word count, absorbing OCR splits and merges.
const windowSlack = 2

type Aligner struct {
	logger *slog.Logger
}

func NewAligner(logger *slog.Logger) *Aligner {
	return &Aligner{logger: logger}
}

// Align fills in the bbox of every line item that does not already carry
// one. Matching is greedy in item order and each word is consumed by at
// most one item, so two similar rows cannot both claim the same words.
// Items with a bbox are left untouched, which makes Align idempotent.
func (a *Aligner) Align(rec *entity.CandidateRecord, pages []entity.PageRecognitionResult) {
	wordsByPage := make(map[int][]entity.WordBlock, len(pages))
	usedByPage := make(map[int][]bool, len(pages))
	for _, p := range pages {
		wordsByPage[p.PageIndex] = p.Words
		usedByPage[p.PageIndex] = make([]bool, len(p.Words))
	}

	aligned := 0
	for i := range rec.LineItems {
		li := &rec.LineItems[i]
		if li.BBox != nil {
			continue
		}
		words := wordsByPage[li.PageIndex]
		used := usedByPage[li.PageIndex]
		if len(words) == 0 {
			continue
		}
		if box, start, end, ok := bestWindow(li.Description, words, used); ok {
			li.BBox = &box
			for w := start; w < end; w++ {
				used[w] = true
			}
			aligned++
		}
	}

	a.logger.Debug("align.done",
		"doc_id", rec.DocumentID,
		"items", len(rec.LineItems),
		"aligned", aligned)
}

// bestWindow slides windows of consecutive words over the page and returns
// the union bbox of the best-scoring window above the floor.
func bestWindow(desc string, words []entity.WordBlock, used []bool) (entity.BBox, int, int, bool) {
	target := normalize(desc)
	if target == "" {
		return entity.BBox{}, 0, 0, false
	}
	targetWords := len(strings.Fields(target))

	minLen := targetWords - windowSlack
	if minLen < 1 {
		minLen = 1
	}
	maxLen := targetWords + windowSlack

	bestScore := similarityFloor
	bestStart, bestEnd := -1, -1
	for size := minLen; size <= maxLen; size++ {
		for start := 0; start+size <= len(words); start++ {
			end := start + size
			if anyUsed(used, start, end) {
				continue
			}
			window := normalize(joinTexts(words[start:end]))
			score := similarity(target, window)
			if score > bestScore {
				bestScore = score
				bestStart, bestEnd = start, end
			}
		}
	}
	if bestStart < 0 {
		return entity.BBox{}, 0, 0, false
	}
	var box entity.BBox
	for _, w := range words[bestStart:bestEnd] {
		box = box.Union(w.BBox)
	}
	return box, bestStart, bestEnd, true
}

func anyUsed(used []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if used[i] {
			return true
		}
	}
	return false
}

func joinTexts(words []entity.WordBlock) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// similarity is 1 - levenshtein/maxLen on the normalized strings, in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	d := levenshtein(a, b)
	longer := la
	if lb > longer {
		longer = lb
	}
	return 1 - float64(d)/float64(longer)
}

// levenshtein computes edit distance with the two-row dynamic program.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
