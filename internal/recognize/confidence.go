package recognize

import (
	"regexp"
	"strings"
)

var (
	reDate   = regexp.MustCompile(`\b(20\d{2}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]20\d{2})\b`)
	reCurr   = regexp.MustCompile(`\b(usd|eur|gbp|cad|aud|inr|jpy)\b|[$£€]`)
	reAmount = regexp.MustCompile(`\b\d{1,3}(,\d{3})*(\.\d{2})\b|\b\d+\.\d{2}\b`)
	reInvNo  = regexp.MustCompile(`\binv(oice)?\s*(no|number|#)?\s*[:#]?\s*\w+`)
)

// heuristicConfidence scores decoded text on invoice-shaped artifacts. Each
// signal present (date-ish, currency-ish, amount-ish, invoice-number-ish)
// adds to a base score; there is enough text to mean a real read adds more.
func heuristicConfidence(txt string) float64 {
	txtL := strings.ToLower(txt)
	score := 0.2 // base
	if reDate.MatchString(txtL) {
		score += 0.2
	}
	if reCurr.MatchString(txtL) {
		score += 0.15
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if reInvNo.MatchString(txtL) {
		score += 0.1
	}
	if len(txt) > 120 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
