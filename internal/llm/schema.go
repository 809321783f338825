package llm

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as a structured output constraint and also use it locally
// to validate the response.
func BuildInvoiceJSONSchema() map[string]any {
	lineItem := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"description": map[string]any{"type": "string"},
			"qty":         moneyProp(),
			"unit_price":  moneyProp(),
			"total":       moneyProp(),
			"vat_rate":    moneyProp(),
		},
		// description may legitimately come back empty; the extractor
		// substitutes a placeholder label rather than dropping the row
		"required": []string{"description"},
	}

	props := map[string]any{
		"supplier_name":  map[string]any{"type": "string"},
		"invoice_number": map[string]any{"type": "string"},
		"invoice_date":   map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"currency_code":  map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"subtotal":       moneyProp(),
		"tax_amount":     moneyProp(),
		"grand_total":    moneyProp(),
		"line_items":     map[string]any{"type": "array", "items": lineItem},
		"confidence":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"supplier_name", "line_items"},
	}
}

func moneyProp() map[string]any {
	return map[string]any{"type": "number"}
}
