package deploy

import (
	"context"
	"log/slog"
	"time"
)

// withRetry runs fn up to attempts times with a doubling backoff between
// tries. Transient cloud and cluster calls are wrapped in it; a nil return
// short-circuits the loop.
func withRetry(ctx context.Context, logger *slog.Logger, op string, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	delay := backoff
	if delay <= 0 {
		delay = 5 * time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if logger != nil {
			logger.Warn("operation failed, retrying", "op", op, "attempt", attempt, "max", attempts, "delay", delay.String(), "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
