package usecase

import (
	"context"
	"log/slog"
	"time"
)

// retryOnce runs fn, and once more after delay if the first attempt failed.
func retryOnce[T any](ctx context.Context, operation string, delay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	out, err := fn(ctx)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return out, err
	}

	slog.Warn("retry_attempt", "operation", operation, "delay_ms", delay.Milliseconds(), "error", err)
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return out, err
		case <-timer.C:
		}
	}
	return fn(ctx)
}
