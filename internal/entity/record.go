package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tablewise/invoice-pipeline/constants"
)

// ExtractionStrategy names which field-extraction strategy produced a record.
type ExtractionStrategy string

const (
	StrategyLLM       ExtractionStrategy = "llm"
	StrategyGeometric ExtractionStrategy = "geometric"
)

// CandidateLineItem is one extracted table row before validation. Pointer
// fields distinguish "absent" from zero; absent quantities may be derived
// later (total / unit price) and missing confidences are treated as 0, never
// assumed high.
type CandidateLineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	LineTotal   *float64 `json:"line_total,omitempty"`
	TaxRate     *float64 `json:"tax_rate,omitempty"`
	Confidence  float64  `json:"confidence"`
	PageIndex   int      `json:"page_index"`
	// BBox is resolved by the aligner; nil when alignment failed, which only
	// disables spatial highlighting downstream.
	BBox *BBox `json:"bbox,omitempty"`
}

// StructurallyValid reports whether the item can be retained at all.
// Negative quantities and prices mark a parse gone wrong, not a discount;
// credit lines arrive as separate documents.
func (li CandidateLineItem) StructurallyValid() bool {
	if li.Quantity != nil && *li.Quantity < 0 {
		return false
	}
	if li.UnitPrice != nil && *li.UnitPrice < 0 {
		return false
	}
	return true
}

// CandidateRecord is the field extractor's output before math validation.
type CandidateRecord struct {
	DocumentID    uuid.UUID              `json:"document_id"`
	DocumentType  constants.DocumentType `json:"document_type"`
	SupplierName  string                 `json:"supplier_name"`
	InvoiceNumber string                 `json:"invoice_number"`
	InvoiceDate   string                 `json:"invoice_date"` // YYYY-MM-DD
	CurrencyCode  string                 `json:"currency_code"`
	Subtotal      *float64               `json:"subtotal,omitempty"`
	TaxAmount     *float64               `json:"tax_amount,omitempty"`
	GrandTotal    *float64               `json:"grand_total,omitempty"`
	LineItems     []CandidateLineItem    `json:"line_items"`
	Strategy      ExtractionStrategy     `json:"strategy"`
	PageIndices   []int                  `json:"page_indices"`
	// RawResponse preserves the engine output verbatim for audit.
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
	// RecognitionConfidence is the mean word confidence over the record's pages.
	RecognitionConfidence float64 `json:"recognition_confidence"`
}

// MathChecks holds the per-check outcomes of arithmetic validation.
type MathChecks struct {
	LineTotalsOK bool `json:"line_totals_ok"` // qty × unit price vs line total
	SubtotalOK   bool `json:"subtotal_ok"`    // Σ line totals vs subtotal
	GrandTotalOK bool `json:"grand_total_ok"` // subtotal + tax vs grand total
}

// ValidatedRecord is the pipeline's terminal output, handed to the ledger.
type ValidatedRecord struct {
	CandidateRecord

	OverallConfidence  float64    `json:"overall_confidence"`
	MathIntegrityScore float64    `json:"math_integrity_score"`
	Checks             MathChecks `json:"math_checks"`
	NeedsReview        bool       `json:"needs_review"`
	CompletedAt        time.Time  `json:"completed_at"`
}

// Ptr returns a pointer to v; shorthand for optional numeric fields.
func Ptr[T any](v T) *T { return &v }
