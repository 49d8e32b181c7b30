package resilience

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
)

// RetryConfig tunes Retry. Zero values take the defaults: 5 attempts,
// exponential backoff from 1 s capped at 16 s.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// IsTransient reports whether an error is worth retrying. Structured
// errors use their code's retryability; anything else falls back to a
// message heuristic for raw transport failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.Retryable()
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"500", "502", "503", "504",
		"rate limit",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Retry runs fn with exponential backoff, retrying only transient
// errors. The last error is returned when attempts are exhausted or the
// context ends.
func Retry(ctx context.Context, cfg RetryConfig, log zerolog.Logger, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 16 * time.Second
	}

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || attempt == cfg.MaxAttempts {
			return lastErr
		}

		log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying after transient error")
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}
