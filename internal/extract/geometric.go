package extract

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/entity"
)

var (
	invoiceNumberREs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bINV[-\s]?\d+\b`),
		regexp.MustCompile(`(?i)\binvoice\s*(?:no\.?|number)?\s*[:#]?\s*([A-Z]{0,4}-?\d[\d-]*)`),
		regexp.MustCompile(`#\s?(\d{3,})\b`),
	}
	dateREs = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}[-/](?:0?[1-9]|1[0-2])[-/](?:0?[1-9]|[12]\d|3[01])\b`),
		regexp.MustCompile(`\b(?:0?[1-9]|[12]\d|3[01])[-/](?:0?[1-9]|1[0-2])[-/]\d{2,4}\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)?\s+(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\s+\d{4}\b`),
	}
	priceRE     = regexp.MustCompile(`^[£€$]?\d{1,3}(?:,\d{3})*\.\d{2}$`)
	bareIntRE   = regexp.MustCompile(`^\d{1,4}$`)
	mergedQtyRE = regexp.MustCompile(`^(\d{1,4})\s+(.*[A-Za-z].*)$`)

	currencySymbols = map[string]string{"£": "GBP", "€": "EUR", "$": "USD"}
	currencyCodeRE  = regexp.MustCompile(`\b(GBP|EUR|USD)\b`)

	// table column headers and boilerplate that must not become line items
	rowNoiseMarkers = []string{
		"vat reg", "vat no", "company no", "sort code", "account no",
		"e&oe", "c/f", "carried forward", "page ", "tel:", "www.",
	}
	subtotalKeywords   = []string{"subtotal", "sub total", "net total", "total net", "goods total"}
	taxKeywords        = []string{"vat @", "vat:", "vat amount", "total vat", "tax amount", "vat"}
	grandTotalKeywords = []string{"grand total", "total due", "amount due", "balance due", "invoice total", "total"}
)

// GeometricStrategy recovers fields without a model: word blocks are
// clustered into table rows by vertical proximity, then currency, quantity
// and date patterns are applied per row. It always produces a record; a
// sparse one still carries whatever the regexes could recover.
type GeometricStrategy struct {
	logger *slog.Logger
}

func NewGeometricStrategy(logger *slog.Logger) *GeometricStrategy {
	return &GeometricStrategy{logger: logger}
}

func (g *GeometricStrategy) Name() entity.ExtractionStrategy { return entity.StrategyGeometric }

func (g *GeometricStrategy) Extract(ctx context.Context, in Input) (entity.CandidateRecord, error) {
	if err := ctx.Err(); err != nil {
		return entity.CandidateRecord{}, err
	}

	rec := entity.CandidateRecord{Strategy: entity.StrategyGeometric}
	rec.SupplierName = headerSupplier(in.Pages)
	rec.InvoiceNumber = findInvoiceNumber(in.Text)
	rec.InvoiceDate = normalizeDate(findDate(in.Text))
	rec.CurrencyCode = findCurrency(in.Text)

	lines := strings.Split(in.Text, "\n")
	rec.Subtotal = amountAfterKeyword(lines, subtotalKeywords, nil)
	rec.TaxAmount = amountAfterKeyword(lines, taxKeywords, nil)
	// plain "total" also matches subtotal and VAT lines, so exclude those
	rec.GrandTotal = amountAfterKeyword(lines, grandTotalKeywords, []string{"sub", "net", "vat", "tax"})

	for _, page := range in.Pages {
		rec.LineItems = append(rec.LineItems, tableLineItems(page)...)
	}

	g.logger.Debug("extract.geometric.done",
		"items", len(rec.LineItems),
		"supplier", rec.SupplierName,
		"currency", rec.CurrencyCode)
	return rec, nil
}

// headerSupplier picks the supplier line from header-zone words: a labeled
// line ("Supplier: ACME Ltd") wins, otherwise the first mostly-alphabetic
// row that is not a document-type banner.
func headerSupplier(pages []entity.PageRecognitionResult) string {
	for _, page := range pages {
		var header []entity.WordBlock
		for _, w := range page.Words {
			if w.Region == entity.RegionHeader {
				header = append(header, w)
			}
		}
		if len(header) == 0 {
			continue
		}
		rows := clusterRows(header)
		for _, row := range rows {
			text := rowText(row)
			if !supplierPrefixRE.MatchString(text) {
				continue
			}
			if name := cleanSupplierName(text); name != "" {
				return name
			}
		}
		for _, row := range rows {
			text := rowText(row)
			if constants.ClassifyHeader(text) != constants.UnknownDoc {
				continue
			}
			if letterRatio(text) < 0.6 || len(text) < 3 {
				continue
			}
			return cleanSupplierName(text)
		}
	}
	return ""
}

func findInvoiceNumber(text string) string {
	for _, re := range invoiceNumberREs {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		val := m[0]
		if len(m) > 1 && m[1] != "" {
			val = m[1]
		}
		return strings.TrimSpace(val)
	}
	return ""
}

func findDate(text string) string {
	for _, re := range dateREs {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// findCurrency returns the most frequent currency evidence: symbol counts
// and explicit ISO codes are tallied together.
func findCurrency(text string) string {
	counts := map[string]int{}
	for sym, code := range currencySymbols {
		counts[code] += strings.Count(text, sym)
	}
	for _, m := range currencyCodeRE.FindAllString(text, -1) {
		counts[m]++
	}
	best, bestN := "", 0
	for code, n := range counts {
		if n > bestN {
			best, bestN = code, n
		}
	}
	return best
}

// amountAfterKeyword scans lines for the first keyword hit and returns the
// last monetary value on that line. Lines containing any exclude marker are
// skipped so "Subtotal" never satisfies a bare "total" lookup.
func amountAfterKeyword(lines []string, keywords, exclude []string) *float64 {
	for _, kw := range keywords {
		for _, line := range lines {
			lower := strings.ToLower(line)
			if !strings.Contains(lower, kw) {
				continue
			}
			if excludedLine(lower, kw, exclude) {
				continue
			}
			if v := lastAmountOnLine(line); v != nil {
				return v
			}
		}
	}
	return nil
}

func excludedLine(lower, kw string, exclude []string) bool {
	for _, ex := range exclude {
		if strings.Contains(lower, ex) && !strings.Contains(kw, ex) {
			return true
		}
	}
	return false
}

func lastAmountOnLine(line string) *float64 {
	matches := amountRE.FindAllString(line, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := strings.ReplaceAll(matches[i], ",", "")
		// require a decimal point so years and quantities are not mistaken
		// for money
		if !strings.Contains(m, ".") {
			continue
		}
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			return &v
		}
	}
	return nil
}

// tableLineItems clusters the page's table-zone words into rows and parses
// each row positionally: leftmost text is the description, trailing decimal
// values are unit price and line total, a bare integer is the quantity.
func tableLineItems(page entity.PageRecognitionResult) []entity.CandidateLineItem {
	var table []entity.WordBlock
	for _, w := range page.Words {
		if w.Region == entity.RegionTable {
			table = append(table, w)
		}
	}
	if len(table) == 0 {
		// some layouts never yield a table zone; fall back to body rows
		// that carry at least one monetary value
		for _, w := range page.Words {
			if w.Region == entity.RegionBody {
				table = append(table, w)
			}
		}
	}

	var items []entity.CandidateLineItem
	for _, row := range clusterRows(table) {
		if li, ok := parseRow(row, page.PageIndex); ok {
			items = append(items, li)
		}
	}
	return items
}

func parseRow(row []entity.WordBlock, pageIndex int) (entity.CandidateLineItem, bool) {
	text := rowText(row)
	lower := strings.ToLower(text)
	if isColumnHeaderRow(lower) || isNoiseRow(lower) {
		return entity.CandidateLineItem{}, false
	}

	var (
		prices    []float64
		qty       *float64
		descWords []string
		confSum   float64
		bbox      entity.BBox
	)
	for _, w := range row {
		confSum += w.Confidence
		bbox = bbox.Union(w.BBox)
		tok := strings.TrimSpace(w.Text)
		switch {
		case priceRE.MatchString(tok):
			if v := parseAmount(tok); v != nil {
				prices = append(prices, *v)
				continue
			}
			descWords = append(descWords, tok)
		case qty == nil && bareIntRE.MatchString(tok):
			if v, err := strconv.ParseFloat(tok, 64); err == nil {
				qty = &v
				continue
			}
			descWords = append(descWords, tok)
		default:
			descWords = append(descWords, tok)
		}
	}

	if len(prices) == 0 && qty == nil {
		return entity.CandidateLineItem{}, false
	}

	li := entity.CandidateLineItem{
		Description: strings.Join(descWords, " "),
		Quantity:    qty,
		PageIndex:   pageIndex,
		BBox:        &bbox,
	}
	switch len(prices) {
	case 0:
	case 1:
		li.LineTotal = entity.Ptr(prices[0])
	default:
		li.UnitPrice = entity.Ptr(prices[0])
		li.LineTotal = entity.Ptr(prices[len(prices)-1])
	}

	// merged first column: "6 12 LITRE PEPSI" means qty 6 of "12 LITRE PEPSI"
	if li.Quantity == nil {
		if m := mergedQtyRE.FindStringSubmatch(li.Description); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				li.Quantity = &v
				li.Description = m[2]
			}
		}
	}

	found := 0
	for _, present := range []bool{li.Description != "", li.Quantity != nil, li.UnitPrice != nil, li.LineTotal != nil} {
		if present {
			found++
		}
	}
	meanConf := confSum / float64(len(row))
	li.Confidence = (float64(found) / 4.0) * meanConf
	return li, true
}

func isColumnHeaderRow(lower string) bool {
	if !strings.Contains(lower, "description") && !strings.Contains(lower, "item") {
		return false
	}
	for _, col := range []string{"qty", "quantity", "price", "total", "amount"} {
		if strings.Contains(lower, col) {
			return true
		}
	}
	return false
}

func isNoiseRow(lower string) bool {
	for _, marker := range rowNoiseMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// clusterRows groups reading-ordered words into visual rows using the same
// half-height tolerance as text assembly.
func clusterRows(words []entity.WordBlock) [][]entity.WordBlock {
	if len(words) == 0 {
		return nil
	}
	rows := [][]entity.WordBlock{{words[0]}}
	prev := words[0].BBox
	for _, w := range words[1:] {
		rowTol := prev.H
		if w.BBox.H > rowTol {
			rowTol = w.BBox.H
		}
		rowTol /= 2
		if rowTol < 1 {
			rowTol = 1
		}
		if abs(w.BBox.CenterY()-prev.CenterY()) > rowTol {
			rows = append(rows, []entity.WordBlock{w})
		} else {
			last := len(rows) - 1
			rows[last] = append(rows[last], w)
		}
		prev = w.BBox
	}
	return rows
}

func rowText(row []entity.WordBlock) string {
	parts := make([]string, len(row))
	for i, w := range row {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

func letterRatio(s string) float64 {
	if s == "" {
		return 0
	}
	letters := 0
	for _, r := range s {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || r == ' ' {
			letters++
		}
	}
	return float64(letters) / float64(len(s))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
