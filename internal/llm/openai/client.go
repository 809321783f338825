package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/llm"
)

// ExtractFields implements llm.FieldExtractor over chat/completions.
//
// Transport failures retry with backoff under the breaker and surface
// ErrEngineUnavailable/ErrCircuitOpen when exhausted; responses that arrive
// but never parse into the contract surface ErrMalformedResponse so the
// caller can fall back to the geometric strategy.
func (c *Client) ExtractFields(ctx context.Context, req llm.ExtractRequest) (llm.DocumentFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.PageText),
		"prep_confidence", req.PrepConfidence,
	)

	schema := llm.BuildInvoiceJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt()},
			{"role": "user", "content": llm.BuildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	var raw []byte
	err := llm.DoWithRetry(ctx, c.cfg.Retry, c.breaker, c.logger, func(ctx context.Context) error {
		var httpErr error
		raw, _, httpErr = llm.SendJSON(ctx, c.http, endpoint, body, c.headers(), c.logger)
		return httpErr
	})
	if err != nil {
		c.logger.Error("llm.extract.transport_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if cause := common.CauseOf(err); cause == constants.CauseCancelled || cause == constants.CauseTimeout {
			return llm.DocumentFields{}, nil, err
		}
		return llm.DocumentFields{}, nil, fmt.Errorf("%w: %v", common.ErrEngineUnavailable, err)
	}

	content, err := decodeChatContent(raw)
	if err != nil {
		c.logger.Error("llm.extract.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return llm.DocumentFields{}, raw, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}

	fields, rawContent, err := parseContract(schema, content)
	if err != nil {
		c.logger.Error("llm.extract.malformed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.DocumentFields{}, rawContent, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"supplier", fields.SupplierName,
		"date", fields.InvoiceDate,
		"items", len(fields.LineItems),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return fields, rawContent, nil
}

func (c *Client) headers() map[string]string {
	h := map[string]string{}
	if c.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	return h
}

// decodeChatContent pulls the first choice's message text out of a
// chat/completions response.
func decodeChatContent(raw []byte) (string, error) {
	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode response envelope: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

// parseContract turns raw model text into validated DocumentFields: repair to
// a JSON object, normalize alias keys, validate against the schema, then
// unmarshal.
func parseContract(schema map[string]any, content string) (llm.DocumentFields, []byte, error) {
	rawContent := llm.RepairJSON(content)
	if rawContent == nil {
		return llm.DocumentFields{}, []byte(content), fmt.Errorf("no JSON object in response")
	}

	cleaned, changed, err := llm.NormalizeAliases(rawContent)
	if err != nil {
		return llm.DocumentFields{}, rawContent, fmt.Errorf("normalize: %w", err)
	}
	if len(changed) > 0 {
		rawContent = cleaned
	}

	if err := llm.ValidateJSONAgainstSchema(schema, rawContent); err != nil {
		return llm.DocumentFields{}, rawContent, fmt.Errorf("schema validation failed: %w", err)
	}

	var out llm.DocumentFields
	if err := json.Unmarshal(rawContent, &out); err != nil {
		return llm.DocumentFields{}, rawContent, fmt.Errorf("unmarshal fields: %w", err)
	}
	return out, rawContent, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
