package llm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Key aliases models actually emit, mapped onto the canonical wire shape.
// Rewriting them here means nothing downstream ever does an ambiguous lookup.
var (
	docAliases = map[string]string{
		"supplier":       "supplier_name",
		"vendor":         "supplier_name",
		"merchant":       "supplier_name",
		"merchant_name":  "supplier_name",
		"invoice_no":     "invoice_number",
		"number":         "invoice_number",
		"date":           "invoice_date",
		"tx_date":        "invoice_date",
		"currency":       "currency_code",
		"vat":            "tax_amount",
		"vat_amount":     "tax_amount",
		"tax":            "tax_amount",
		"total":          "grand_total",
		"total_amount":   "grand_total",
		"items":          "line_items",
		"lines":          "line_items",
	}
	itemAliases = map[string]string{
		"quantity":    "qty",
		"price":       "unit_price",
		"unit_cost":   "unit_price",
		"rate":        "unit_price",
		"total_price": "total",
		"line_total":  "total",
		"amount":      "total",
		"value":       "total",
		"tax_rate":    "vat_rate",
		"vat":         "vat_rate",
		"desc":        "description",
		"item":        "description",
		"name":        "description",
		"product":     "description",
	}
	numericDocKeys  = []string{"subtotal", "tax_amount", "grand_total", "confidence"}
	numericItemKeys = []string{"qty", "unit_price", "total", "vat_rate"}

	reMoneyNoise = regexp.MustCompile(`[£$€,\s]`)
	reCodeFence  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// RepairJSON recovers a JSON object from conversational model output: strips
// markdown code fences and trims to the outermost braces. Returns nil when no
// object can be found.
func RepairJSON(text string) []byte {
	if m := reCodeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil
	}
	return []byte(text[start : end+1])
}

// NormalizeAliases rewrites alias keys onto the canonical shape and coerces
// decimal strings ("£5.00", "5,120.40") into numbers, so the document can
// validate against the strict schema. It returns the rewritten document and
// the list of keys that were touched.
func NormalizeAliases(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}

	var changed []string

	renameKeys(m, docAliases, &changed)
	for _, k := range numericDocKeys {
		coerceNumber(m, k, &changed)
	}

	if items, ok := m["line_items"].([]any); ok {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			renameKeys(item, itemAliases, &changed)
			for _, k := range numericItemKeys {
				coerceNumber(item, k, &changed)
			}
			if _, ok := item["description"]; !ok {
				item["description"] = ""
				changed = append(changed, "description")
			}
		}
	} else if _, present := m["line_items"]; !present {
		m["line_items"] = []any{}
		changed = append(changed, "line_items")
	}

	// a supplier-less response is still usable; downstream treats an empty
	// name as unknown rather than rejecting the whole document
	if _, ok := m["supplier_name"]; !ok {
		m["supplier_name"] = ""
		changed = append(changed, "supplier_name")
	}

	// currency casing
	if v, ok := m["currency_code"].(string); ok {
		m["currency_code"] = strings.ToUpper(strings.TrimSpace(v))
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, changed, nil
}

// renameKeys moves alias keys onto canonical names; an existing canonical key
// wins over its alias.
func renameKeys(m map[string]any, aliases map[string]string, changed *[]string) {
	for alias, canonical := range aliases {
		v, ok := m[alias]
		if !ok {
			continue
		}
		delete(m, alias)
		if _, exists := m[canonical]; !exists {
			m[canonical] = v
			*changed = append(*changed, alias+"->"+canonical)
		}
	}
}

// coerceNumber turns decimal strings into JSON numbers and drops values that
// cannot be read as a number at all. Null means absent, never zero.
func coerceNumber(m map[string]any, key string, changed *[]string) {
	v, ok := m[key]
	if !ok {
		return
	}
	switch t := v.(type) {
	case nil:
		delete(m, key)
		*changed = append(*changed, key)
	case float64:
		// already a number
	case string:
		s := reMoneyNoise.ReplaceAllString(strings.TrimSpace(t), "")
		s = strings.TrimSuffix(s, "%")
		if s == "" || strings.EqualFold(s, "null") {
			delete(m, key)
			*changed = append(*changed, key)
			return
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			m[key] = f
			*changed = append(*changed, key)
		} else {
			delete(m, key)
			*changed = append(*changed, key)
		}
	default:
		delete(m, key)
		*changed = append(*changed, key)
	}
}
