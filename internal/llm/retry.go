package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tablewise/invoice-pipeline/internal/common"
)

// RetryPolicy bounds the calls made against a flaky model endpoint:
// exponential backoff between attempts, and a circuit breaker that stops
// calling after a run of consecutive failures instead of retrying forever.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BreakerTrips   int // consecutive failures before the circuit opens
}

// Breaker tracks consecutive failures across calls. It is shared by all
// documents flowing through one pipeline instance.
type Breaker struct {
	mu       sync.Mutex
	failures int
	trips    int
}

func NewBreaker(trips int) *Breaker {
	if trips <= 0 {
		trips = 5
	}
	return &Breaker{trips: trips}
}

// Allow reports whether a call may be attempted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures < b.trips
}

// Record feeds a call outcome into the breaker. Any success closes the
// circuit again; the breaker carries no half-open timer because retry after
// an open circuit is an explicit operator action in this pipeline.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
}

// Reset closes the circuit, used by explicit re-enqueue.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// DoWithRetry runs fn under the policy, backing off exponentially between
// attempts. It returns common.ErrCircuitOpen without calling fn when the
// breaker is open.
func DoWithRetry(ctx context.Context, policy RetryPolicy, breaker *Breaker, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if !breaker.Allow() {
		return common.ErrCircuitOpen
	}

	backoff := policy.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := policy.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 32 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("llm.retrying", "attempt", attempt, "backoff_ms", backoff.Milliseconds(), "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		lastErr = fn(ctx)
		breaker.Record(lastErr)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !breaker.Allow() {
			logger.Error("llm.circuit_opened", "consecutive_failures", policy.BreakerTrips)
			break
		}
	}
	return common.WrapError(lastErr, "retries exhausted")
}
