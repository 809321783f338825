package constants

import (
	"strings"
)

// DocumentType classifies a logical document inside an upload. A single PDF
// may contain more than one (an invoice followed by its delivery note).
type DocumentType string

const (
	Invoice      DocumentType = "invoice"
	DeliveryNote DocumentType = "delivery_note"
	Receipt      DocumentType = "receipt"
	CreditNote   DocumentType = "credit_note"
	UnknownDoc   DocumentType = "unknown"
)

// doctypeSignals maps header phrases to the document type they announce.
// Longer phrases are checked first by ClassifyHeader.
var doctypeSignals = []struct {
	phrase string
	dt     DocumentType
}{
	{"delivery note", DeliveryNote},
	{"goods received", DeliveryNote},
	{"despatch note", DeliveryNote},
	{"credit note", CreditNote},
	{"credit memo", CreditNote},
	{"tax invoice", Invoice},
	{"vat invoice", Invoice},
	{"invoice", Invoice},
	{"receipt", Receipt},
}

// ClassifyHeader inspects header-zone text and returns the announced document
// type, or UnknownDoc when no signal phrase is present.
func ClassifyHeader(header string) DocumentType {
	normalized := strings.ToLower(header)
	for _, sig := range doctypeSignals {
		if strings.Contains(normalized, sig.phrase) {
			return sig.dt
		}
	}
	return UnknownDoc
}
