package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	supplierPrefixRE = regexp.MustCompile(`(?i)^(supplier|vendor|from|issued by|sold by)\s*[:\-]?\s*`)
	multiSpaceRE     = regexp.MustCompile(`\s+`)
	ordinalRE        = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	amountRE         = regexp.MustCompile(`[+-]?\d{1,3}(?:,\d{3})*(?:\.\d{1,4})?|[+-]?\d+(?:\.\d{1,4})?`)
)

// cleanSupplierName strips label prefixes and registration noise that OCR
// drags into the supplier line. Unknown stays empty rather than "Unknown".
func cleanSupplierName(s string) string {
	s = strings.TrimSpace(s)
	s = supplierPrefixRE.ReplaceAllString(s, "")
	// drop anything after a VAT or company registration marker on the line
	for _, marker := range []string{"vat reg", "vat no", "company no", "reg no", "registered"} {
		if i := strings.Index(strings.ToLower(s), marker); i >= 0 {
			s = s[:i]
		}
	}
	s = strings.Trim(s, " \t:.-,")
	s = multiSpaceRE.ReplaceAllString(s, " ")
	if strings.EqualFold(s, "unknown") {
		return ""
	}
	return s
}

// dateLayouts lists accepted input forms, most specific first. Day-first
// layouts come before month-first because the suppliers this pipeline sees
// write dates the British way.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"2/1/2006",
	"02/01/06",
	"2/1/06",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// normalizeDate rewrites a matched date string to YYYY-MM-DD. Strings that
// fit no known layout are returned trimmed so the raw value is not lost.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	cleaned := ordinalRE.ReplaceAllString(s, "$1")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

// parseAmount extracts the first monetary value from a token or line,
// tolerating currency symbols and thousands separators. Returns nil when no
// numeric value is present.
func parseAmount(s string) *float64 {
	m := amountRE.FindString(s)
	if m == "" {
		return nil
	}
	m = strings.ReplaceAll(m, ",", "")
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}
