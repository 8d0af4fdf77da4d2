package worker

import (
	"context"
	"time"
)

// retryAttempts / retryMinWait / retryMaxWait reproduce the
// @retry(stop_after_attempt(3), wait_exponential(min=2, max=10))
// decorator original_source/worker/worker.py and ml_processor.py apply
// to every external call.
const (
	retryAttempts = 3
	retryMinWait  = 2 * time.Second
	retryMaxWait  = 10 * time.Second
)

// withRetry runs fn up to retryAttempts times with exponential backoff
// between retryMinWait and retryMaxWait, returning the last error if
// every attempt fails.
func withRetry(ctx context.Context, fn func() error) error {
	wait := retryMinWait
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > retryMaxWait {
			wait = retryMaxWait
		}
	}
	return err
}
