package git

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
)

// Backoff returns the retry policy for remote operations: steps attempts,
// starting at initial and doubling up to a cap of 30 seconds.
func Backoff(steps int, initial time.Duration) wait.Backoff {
	if steps < 1 {
		steps = 1
	}
	return wait.Backoff{
		Duration: initial,
		Factor:   2,
		Steps:    steps,
		Cap:      30 * time.Second,
		Jitter:   0.1,
	}
}

// Retry runs fn until it succeeds, fails with a non-transient error, the
// backoff is exhausted or ctx is done. The last error is returned.
func Retry(ctx context.Context, backoff wait.Backoff, logger *slog.Logger, op string, fn func() error) error {
	attempt := 0
	return retry.OnError(backoff, func(err error) bool {
		if ctx.Err() != nil || !IsTransient(err) {
			return false
		}
		logger.Warn("transient failure, retrying", "op", op, "attempt", attempt, "error", err)
		return true
	}, func() error {
		attempt++
		return fn()
	})
}
