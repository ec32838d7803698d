package loupe

import (
	"context"
	"time"

	"github.com/zoobzio/clockz"
)

// DefaultRetries is the number of extra attempts made after a not-ready answer.
const DefaultRetries = 5

// DefaultRetryDelay is the fixed delay between not-ready attempts.
const DefaultRetryDelay = 500 * time.Millisecond

// retryNotReady runs fn and repeats it while it fails with a not-ready
// error, up to retries extra attempts with a fixed delay between them. Any
// other failure is returned immediately. onRetry, if set, is called with the
// number of the attempt about to start (2 for the first retry).
func retryNotReady(
	ctx context.Context,
	clock clockz.Clock,
	retries int,
	delay time.Duration,
	onRetry func(attempt int),
	fn func(ctx context.Context) error,
) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !IsNotReady(err) || attempt > retries {
			return err
		}

		timer := clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}

		if onRetry != nil {
			onRetry(attempt + 1)
		}
	}
}
