package layout

import (
	"image"
	"sort"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

// Geometric fallback segmentation. Works on the binarized page alone:
// horizontal whitespace gaps and rule lines partition the page into blocks,
// column-boundary analysis promotes blocks to tables, and vertical position
// assigns header/footer.
//
// Thresholds are expressed as fractions of page size so the segmentation is
// resolution independent.
const (
	headerZoneFraction = 0.15 // top 15% of the page
	footerZoneFraction = 0.15 // bottom 15%
	minTableColumns    = 3    // aligned column boundaries needed for a table
	ruleLineCoverage   = 0.60 // fraction of row pixels that must be ink for a rule line
	gapRowCoverage     = 0.005 // at most this ink fraction counts as whitespace
)

// GeometricSegment partitions a binary page image into regions. It is fully
// deterministic and never fails; a blank page yields a single body region.
func GeometricSegment(bin *image.Gray) []entity.Region {
	b := bin.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	ink := rowInkProfile(bin)

	// split rows into bands separated by runs of whitespace rows
	const minGapRows = 8
	type band struct{ y0, y1 int }
	var bands []band
	inBand, start := false, 0
	gapRun := 0
	for y := 0; y < h; y++ {
		blank := ink[y] <= gapRowCoverage*float64(w)
		if blank {
			gapRun++
		} else {
			gapRun = 0
		}
		switch {
		case !inBand && !blank:
			inBand, start = true, y
		case inBand && blank && gapRun >= minGapRows:
			bands = append(bands, band{y0: start, y1: y - gapRun + 1})
			inBand = false
		}
	}
	if inBand {
		bands = append(bands, band{y0: start, y1: h})
	}
	if len(bands) == 0 {
		return []entity.Region{{
			Type:   entity.RegionBody,
			BBox:   entity.BBox{X: 0, Y: 0, W: w, H: h},
			Source: entity.RegionFromGeometric,
		}}
	}

	regions := make([]entity.Region, 0, len(bands))
	for _, bd := range bands {
		box := trimToInk(bin, entity.BBox{X: 0, Y: bd.y0, W: w, H: bd.y1 - bd.y0})
		rt := classifyBand(bin, box, h)
		regions = append(regions, entity.Region{Type: rt, BBox: box, Source: entity.RegionFromGeometric})
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].BBox.Y < regions[j].BBox.Y })
	return regions
}

// classifyBand decides a band's type: a table needs enough aligned column
// boundaries, header/footer go by vertical position, everything else is body.
func classifyBand(bin *image.Gray, box entity.BBox, pageH int) entity.RegionType {
	if cols := columnBoundaries(bin, box); cols >= minTableColumns {
		return entity.RegionTable
	}
	center := box.CenterY()
	if center < int(float64(pageH)*headerZoneFraction) {
		return entity.RegionHeader
	}
	if center > pageH-int(float64(pageH)*footerZoneFraction) {
		return entity.RegionFooter
	}
	return entity.RegionBody
}

// columnBoundaries counts vertical whitespace channels inside a band that
// separate runs of ink — a proxy for aligned table columns. A channel must
// span most of the band's height to count.
func columnBoundaries(bin *image.Gray, box entity.BBox) int {
	if box.W < 40 || box.H < 8 {
		return 0
	}
	colInk := make([]int, box.W)
	for y := box.Y; y < box.Y+box.H; y++ {
		row := y * bin.Stride
		for x := 0; x < box.W; x++ {
			if bin.Pix[row+box.X+x] == 0 {
				colInk[x]++
			}
		}
	}

	// a column channel is a run of >= minChannel near-empty pixel columns
	// flanked by inked ones
	minChannel := box.W / 100
	if minChannel < 4 {
		minChannel = 4
	}
	limit := box.H / 20 // up to 5% stray ink per empty column

	boundaries := 0
	run := 0
	seenInk := false
	for x := 0; x < box.W; x++ {
		if colInk[x] <= limit {
			run++
			continue
		}
		if seenInk && run >= minChannel {
			boundaries++
		}
		seenInk = true
		run = 0
	}
	if boundaries == 0 {
		return 0
	}
	// boundaries separate columns; include the flanking columns themselves
	return boundaries + 1
}

// rowInkProfile counts black pixels per row, treating full-width rule lines
// as whitespace so ruled tables still split from their surroundings.
func rowInkProfile(bin *image.Gray) []float64 {
	b := bin.Bounds()
	w, h := b.Dx(), b.Dy()
	ink := make([]float64, h)
	for y := 0; y < h; y++ {
		var black int
		row := y * bin.Stride
		for x := 0; x < w; x++ {
			if bin.Pix[row+x] == 0 {
				black++
			}
		}
		if float64(black) >= ruleLineCoverage*float64(w) {
			ink[y] = 0 // horizontal rule line, not text
			continue
		}
		ink[y] = float64(black)
	}
	return ink
}

// trimToInk tightens a band's box horizontally to its inked extent.
func trimToInk(bin *image.Gray, box entity.BBox) entity.BBox {
	left, right := box.X+box.W, box.X
	for y := box.Y; y < box.Y+box.H; y++ {
		row := y * bin.Stride
		for x := box.X; x < box.X+box.W; x++ {
			if bin.Pix[row+x] == 0 {
				if x < left {
					left = x
				}
				if x > right {
					right = x
				}
			}
		}
	}
	if left > right {
		return box
	}
	return entity.BBox{X: left, Y: box.Y, W: right - left + 1, H: box.H}
}
