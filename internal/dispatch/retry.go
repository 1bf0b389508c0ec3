package dispatch

import (
	"context"
	"math"
	"math/rand"
	"time"

	"vtt-keyboard/internal/provider"
)

// RetryConfig bounds the retry behavior for one segment upload.
type RetryConfig struct {
	// MaxAttempts counts the first try plus retries.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// BackoffFactor is the exponential growth multiplier.
	BackoffFactor float64
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64
	// RetryIf decides whether a failed attempt is retried.
	RetryIf func(error) bool
	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryConfig retries transient failures only, with capped
// exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        provider.IsTransient,
	}
}

// retryTranscribe runs one segment's transcription attempts until
// success, a non-retryable error, the attempt bound, or cancellation.
func retryTranscribe(ctx context.Context, cfg RetryConfig, fn func() (string, error)) (string, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = provider.IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		text, err := fn()
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return "", err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := backoffFor(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", lastErr
}

func backoffFor(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if cfg.Jitter > 0 {
		jitterRange := backoff * cfg.Jitter
		backoff += (rand.Float64()*2 - 1) * jitterRange
	}
	if max := float64(cfg.MaxBackoff); cfg.MaxBackoff > 0 && backoff > max {
		backoff = max
	}
	return time.Duration(backoff)
}
