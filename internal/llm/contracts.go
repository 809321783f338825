package llm

import "context"

// LineItemFields is one table row in the canonical wire shape. The lenient
// normalizer rewrites the aliases models actually emit (quantity/qty,
// total_price/total, price/unit_price) onto these keys before schema
// validation, so no ambiguous key lookup survives past this package.
type LineItemFields struct {
	Description string   `json:"description"`
	Qty         *float64 `json:"qty,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	Total       *float64 `json:"total,omitempty"`
	VATRate     *float64 `json:"vat_rate,omitempty"`
}

// DocumentFields is the normalized shape we want from the LLM.
type DocumentFields struct {
	SupplierName  string           `json:"supplier_name"`
	InvoiceNumber string           `json:"invoice_number,omitempty"`
	InvoiceDate   string           `json:"invoice_date,omitempty"` // YYYY-MM-DD
	CurrencyCode  string           `json:"currency_code,omitempty"`
	Subtotal      *float64         `json:"subtotal,omitempty"`
	TaxAmount     *float64         `json:"tax_amount,omitempty"`
	GrandTotal    *float64         `json:"grand_total,omitempty"`
	LineItems     []LineItemFields `json:"line_items"`
	// ModelConfidence is whatever the model claims for itself; absent means
	// 0.0, never assumed high.
	ModelConfidence float64 `json:"confidence,omitempty"`
}

// ExtractRequest carries the assembled page text to the model.
type ExtractRequest struct {
	PageText       string
	FilenameHint   string
	PrepConfidence float64
}

// FieldExtractor is the interface the extraction strategy depends on.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, req ExtractRequest) (DocumentFields, []byte /*rawJSON*/, error)
}
