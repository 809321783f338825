package llm

import "strings"

// BuildSystemPrompt composes the extraction contract. The rules mirror the
// failure modes seen on real supplier invoices: merged quantity/description
// columns, header noise extracted as products, and misplaced decimal points.
func BuildSystemPrompt() string {
	parts := []string{
		"You are a data extraction engine for invoices and delivery notes. Return ONLY JSON that matches the provided JSON Schema. Do not wrap it in markdown code blocks and do not output conversational text.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"Currency must be a 3-letter ISO 4217 code.",
		"For each line item extract description, qty, unit_price, total and vat_rate when visible.",
		"When a line starts with two numbers (e.g. \"6 12 LITRE PEPSI\"), the first number is ALWAYS the quantity and the rest is the description.",
		"If qty is missing but total and unit_price are present, compute qty = total / unit_price. If quantity is totally missing, default it to 1.",
		"Trust an explicit total over qty times unit_price when they conflict.",
		"Preserve decimal points exactly: \"891.54\" is 891.54, never 89154.",
		"Do NOT extract as line items: VAT registration numbers, company numbers, addresses, phone numbers, bank details, container lists, return-policy text, table column headers, carried-forward references, or page markers.",
		"Put subtotal, tax and grand total in the root fields, never in line_items.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the page text with an optional filename hint.
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	if f := strings.TrimSpace(req.FilenameHint); f != "" {
		b.WriteString("Filename: ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	text := strings.TrimSpace(req.PageText)
	b.WriteString("\nDocument text:\n")
	if len(text) > 12000 {
		b.WriteString(text[:12000])
		b.WriteString("\n…(truncated)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}
