package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/llm"
)

func chatResponse(t *testing.T, content string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func testClient(t *testing.T, baseURL string, retry llm.RetryPolicy) *Client {
	t.Helper()
	return NewClient(Config{
		APIKey:  "test",
		BaseURL: baseURL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
		Retry:   retry,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtractFieldsAcceptsSupplierlessResponse(t *testing.T) {
	content := `{"line_items":[{"qty":10,"unit_price":5.0,"total":50.0,"description":""}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatResponse(t, content))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, llm.RetryPolicy{MaxRetries: 1, InitialBackoff: time.Millisecond})
	fields, _, err := c.ExtractFields(context.Background(), llm.ExtractRequest{PageText: "some page"})
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if fields.SupplierName != "" {
		t.Errorf("SupplierName = %q, want empty", fields.SupplierName)
	}
	if len(fields.LineItems) != 1 {
		t.Fatalf("LineItems = %d, want 1", len(fields.LineItems))
	}
	li := fields.LineItems[0]
	if li.Qty == nil || *li.Qty != 10 {
		t.Errorf("Qty = %v, want 10", li.Qty)
	}
	if li.Total == nil || *li.Total != 50 {
		t.Errorf("Total = %v, want 50", li.Total)
	}
}

func TestResetBreakerRestoresService(t *testing.T) {
	var failing atomic.Bool
	var requests atomic.Int32
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(chatResponse(t, `{"supplier_name":"ACME","line_items":[]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, llm.RetryPolicy{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BreakerTrips:   2,
	})

	if _, _, err := c.ExtractFields(context.Background(), llm.ExtractRequest{PageText: "p"}); err == nil {
		t.Fatal("expected failure while server is down")
	}
	afterFailure := requests.Load()

	// circuit is open: no request reaches the server
	if _, _, err := c.ExtractFields(context.Background(), llm.ExtractRequest{PageText: "p"}); !errors.Is(err, common.ErrEngineUnavailable) {
		t.Fatalf("open-circuit error = %v, want ErrEngineUnavailable", err)
	}
	if got := requests.Load(); got != afterFailure {
		t.Fatalf("requests while open = %d, want %d", got, afterFailure)
	}

	failing.Store(false)
	c.ResetBreaker()
	fields, _, err := c.ExtractFields(context.Background(), llm.ExtractRequest{PageText: "p"})
	if err != nil {
		t.Fatalf("ExtractFields after reset: %v", err)
	}
	if fields.SupplierName != "ACME" {
		t.Errorf("SupplierName = %q, want ACME", fields.SupplierName)
	}
}
