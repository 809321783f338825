package extract

import (
	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/entity"
)

// bottomMarginFrac is how close (relative to the page's ink extent) the last
// table row must sit to the bottom for the table to count as overflowing
// onto the next page.
const bottomMarginFrac = 0.10

// GroupPages splits recognized pages into logical documents. A page joins
// the running document when it looks like a continuation: no banner of its
// own, or the previous page's table runs off the bottom edge. A page whose
// header announces a different document type always opens a new document,
// so a delivery note stapled behind an invoice never donates its rows to
// the invoice.
func GroupPages(pages []entity.PageRecognitionResult) [][]entity.PageRecognitionResult {
	if len(pages) == 0 {
		return nil
	}

	groups := [][]entity.PageRecognitionResult{{pages[0]}}
	curType := pages[0].DocumentTypeOf()

	for i := 1; i < len(pages); i++ {
		page := pages[i]
		pageType := page.DocumentTypeOf()

		startsNew := false
		if pageType != constants.UnknownDoc {
			if curType != constants.UnknownDoc && pageType != curType {
				startsNew = true
			} else if !tableTouchesBottom(pages[i-1]) {
				// same banner again but the previous page ended cleanly;
				// this is a fresh document, not an overflow
				startsNew = true
			}
		}

		if startsNew {
			groups = append(groups, []entity.PageRecognitionResult{page})
			curType = pageType
			continue
		}
		last := len(groups) - 1
		groups[last] = append(groups[last], page)
		if curType == constants.UnknownDoc {
			curType = pageType
		}
	}
	return groups
}

// tableTouchesBottom reports whether the page's lowest table row reaches the
// bottom of the page's ink extent, the signature of a table that overflows
// onto the next page.
func tableTouchesBottom(p entity.PageRecognitionResult) bool {
	inkBottom, tableBottom := 0, 0
	for _, w := range p.Words {
		bottom := w.BBox.Y + w.BBox.H
		if bottom > inkBottom {
			inkBottom = bottom
		}
		if w.Region == entity.RegionTable && bottom > tableBottom {
			tableBottom = bottom
		}
	}
	if tableBottom == 0 || inkBottom == 0 {
		return false
	}
	return float64(tableBottom) >= float64(inkBottom)*(1-bottomMarginFrac)
}
