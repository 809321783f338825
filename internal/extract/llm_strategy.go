package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/entity"
	"github.com/tablewise/invoice-pipeline/internal/llm"
)

// LLMStrategy sends the assembled page text to a chat-completions model and
// maps the validated contract onto a candidate record. A nil client means
// the strategy is administratively disabled and always defers to the next
// strategy in the list.
type LLMStrategy struct {
	client llm.FieldExtractor
	logger *slog.Logger
}

func NewLLMStrategy(client llm.FieldExtractor, logger *slog.Logger) *LLMStrategy {
	return &LLMStrategy{client: client, logger: logger}
}

func (s *LLMStrategy) Name() entity.ExtractionStrategy { return entity.StrategyLLM }

func (s *LLMStrategy) Extract(ctx context.Context, in Input) (entity.CandidateRecord, error) {
	if s.client == nil {
		return entity.CandidateRecord{}, common.WrapError(common.ErrEngineUnavailable, "llm strategy disabled")
	}

	req := llm.ExtractRequest{
		PageText:       in.Text,
		PrepConfidence: in.RecognitionConfidence(),
	}
	if in.Document != nil {
		req.FilenameHint = in.Document.Filename
	}

	fields, raw, err := s.client.ExtractFields(ctx, req)
	if err != nil {
		return entity.CandidateRecord{}, err
	}

	rec := entity.CandidateRecord{
		SupplierName:  cleanSupplierName(fields.SupplierName),
		InvoiceNumber: strings.TrimSpace(fields.InvoiceNumber),
		InvoiceDate:   normalizeDate(fields.InvoiceDate),
		CurrencyCode:  strings.ToUpper(strings.TrimSpace(fields.CurrencyCode)),
		Subtotal:      fields.Subtotal,
		TaxAmount:     fields.TaxAmount,
		GrandTotal:    fields.GrandTotal,
		Strategy:      entity.StrategyLLM,
		RawResponse:   raw,
	}

	firstPage := 0
	if len(in.Pages) > 0 {
		firstPage = in.Pages[0].PageIndex
	}
	for _, it := range fields.LineItems {
		rec.LineItems = append(rec.LineItems, entity.CandidateLineItem{
			Description: it.Description,
			Quantity:    it.Qty,
			UnitPrice:   it.UnitPrice,
			LineTotal:   it.Total,
			TaxRate:     it.VATRate,
			Confidence:  fields.ModelConfidence,
			PageIndex:   firstPage,
		})
	}
	return rec, nil
}
