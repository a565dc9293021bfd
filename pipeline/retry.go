package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// WithRetry runs op up to attempts times with a fixed delay between tries and
// returns the last error once attempts are exhausted.
func WithRetry[T any](ctx context.Context, logger zerolog.Logger, attempts int, delay time.Duration, op func(context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", attempts).
			Dur("delay", delay).Msg("attempt failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
