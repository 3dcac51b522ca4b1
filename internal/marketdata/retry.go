package marketdata

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// RetryConfig configures retry behavior for provider fetches.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig keeps fetch latency inside the provider deadline:
// at most two retries with short jittered backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2.0,
	}
}

// IsRetryable reports whether an error is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503")
}

// WithRetry executes an operation with jittered exponential backoff.
func WithRetry(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				log.Debug().Int("attempt", attempt+1).Msg("Fetch succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}

		// Jitter spreads concurrent retries apart.
		sleep := backoff/2 + time.Duration(rand.Int63n(int64(backoff)/2+1))
		log.Warn().Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", sleep).
			Msg("Fetch failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("fetch failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}
