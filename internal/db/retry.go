package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liveboard/liveboard/internal/slogging"
	"gorm.io/gorm"
)

// RetryConfig holds configuration for retry behavior. MaxRetries counts
// attempts, so 3 means one try plus two retries.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the defaults used for snapshot writes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// Delay returns the backoff before the given attempt (attempt 0 has none).
func (cfg RetryConfig) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// #nosec G115 - attempt is bounded by MaxRetries
	delay := cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	return delay
}

// Retry runs fn until it succeeds, returns an error retryable rejects, the
// attempts run out, or ctx is done.
func Retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func(ctx context.Context) error) error {
	logger := slogging.Get()
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := cfg.Delay(attempt)
			logger.Debug("Retrying in %v (attempt %d/%d)", delay, attempt+1, attempts)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		logger.Warn("Attempt %d/%d failed with retryable error: %v", attempt+1, attempts, err)
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// IsDuplicateKeyError detects unique constraint violations across dialects.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "duplicate key") ||
		strings.Contains(errStr, "unique constraint") ||
		strings.Contains(errStr, "duplicate entry")
}
