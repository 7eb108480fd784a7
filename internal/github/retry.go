package github

import (
	"context"
	"errors"
	"time"

	"github.com/imploid/imploid/internal/logging"
)

// RetryConfig tunes WithRetry.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig retries three times with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// retryable reports whether an API failure is worth retrying: transport
// errors, rate limiting, and server-side errors. Client errors other than
// 429 indicate a request that will not succeed on repeat.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}
	return true
}

// WithRetry runs fn with exponential backoff until it succeeds, the error is
// not retryable, attempts are exhausted, or the context ends.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	log := logging.WithComponent("github")

	var err error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == cfg.MaxAttempts {
			return err
		}
		log.Warn("github call failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}
