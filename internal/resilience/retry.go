package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tepilora/newsradar/internal/observability"
)

var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryPolicy retries transient failures with exponential backoff.
// The delay before retry k is base*2^k plus a uniform jitter in [0, base).
type RetryPolicy struct {
	maxRetries int
	base       time.Duration
	logger     *observability.Logger
}

func NewRetryPolicy(maxRetries int, base time.Duration, logger *observability.Logger) *RetryPolicy {
	return &RetryPolicy{
		maxRetries: maxRetries,
		base:       base,
		logger:     logger,
	}
}

func (p *RetryPolicy) Do(ctx context.Context, label string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt)
			p.logger.Warn("Retrying after failure",
				"label", label,
				"attempt", attempt,
				"delay", delay.String(),
				"error", lastErr.Error(),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrRetryExhausted, label, p.maxRetries+1, lastErr)
}

func (p *RetryPolicy) backoff(attempt int) time.Duration {
	exponential := p.base * (1 << uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(p.base)))
	return exponential + jitter
}
