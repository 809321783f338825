package entity

import "strings"

// JoinWords assembles word blocks into text, inserting a newline whenever the
// next word sits on a visually distinct row. Words are expected in reading
// order; this function does not re-sort them.
func JoinWords(words []WordBlock) string {
	if len(words) == 0 {
		return ""
	}
	var b strings.Builder
	prev := words[0].BBox
	b.WriteString(words[0].Text)
	for _, w := range words[1:] {
		rowTol := max(prev.H, w.BBox.H) / 2
		if rowTol < 1 {
			rowTol = 1
		}
		if abs(w.BBox.CenterY()-prev.CenterY()) > rowTol {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
		b.WriteString(w.Text)
		prev = w.BBox
	}
	return b.String()
}

// SortReadingOrder orders word blocks top-to-bottom then left-to-right with a row
// tolerance, for engines that emit words out of reading order.
func SortReadingOrder(words []WordBlock) {
	// insertion sort keeps already-ordered engine output cheap
	for i := 1; i < len(words); i++ {
		for j := i; j > 0 && readingLess(words[j], words[j-1]); j-- {
			words[j], words[j-1] = words[j-1], words[j]
		}
	}
}

func readingLess(a, b WordBlock) bool {
	rowTol := max(a.BBox.H, b.BBox.H) / 2
	if rowTol < 1 {
		rowTol = 1
	}
	if abs(a.BBox.CenterY()-b.BBox.CenterY()) > rowTol {
		return a.BBox.CenterY() < b.BBox.CenterY()
	}
	return a.BBox.X < b.BBox.X
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
