package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/tablewise/invoice-pipeline/internal/llm"
)

// Config for the OpenAI-compatible client. Ollama and vLLM expose the same
// chat/completions surface, so one client covers local and hosted models.
type Config struct {
	APIKey      string // if empty, falls back to env LLM_API_KEY
	BaseURL     string // default http://localhost:11434/v1
	Model       string
	Temperature float32       // 0..2
	Timeout     time.Duration // http client timeout
	Retry       llm.RetryPolicy
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *llm.Breaker
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("LLM_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1:8b"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: llm.NewBreaker(cfg.Retry.BreakerTrips),
		logger:  logger,
	}
}

// ResetBreaker closes the circuit; called on explicit document re-enqueue.
func (c *Client) ResetBreaker() {
	c.breaker.Reset()
}
