package rpc

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
)

const jitterFraction = 0.25

// calculateBackoff returns the wait before attempt (1-based): nothing before the first, then
// InitialBackoff growing by BackoffMultiplier up to MaxBackoff, with ±25% jitter.
func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	backoff = min(backoff, float64(cfg.MaxBackoff.Duration))
	backoff += backoff * jitterFraction * (2*rand.Float64() - 1) //nolint:gosec

	return time.Duration(max(backoff, 0))
}

// retryWithBackoff runs fn until it succeeds, fails with an error that is not transient, or
// MaxAttempts is used up. Exhaustion is reported as a chain.TransientError so the caller may try
// again on a later cycle. A nil cfg runs fn once.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	if cfg == nil {
		return fn()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if wait := calculateBackoff(attempt, cfg); wait > 0 {
			retryInc(operation)

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s cancelled after %d attempt(s): %w", operation, attempt-1, ctx.Err())
			}
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", operation, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if classify(lastErr) != classTransient {
			return lastErr
		}
	}

	return &chain.TransientError{
		Op:  operation,
		Err: fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr),
	}
}
