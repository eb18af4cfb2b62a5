package objstore

import (
	"context"
	"time"
)

const (
	// DefaultAttempts bounds retried fetch/store operations.
	DefaultAttempts = 3
	// DefaultTimeout bounds a single fetch/store round trip.
	DefaultTimeout = 15 * time.Second

	backoffStep = 250 * time.Millisecond
)

// FetchWithRetry fetches key with up to maxAttempts attempts. Only
// retryable failures (transient/unknown) are re-attempted; a not-found
// fails immediately.
func (c *Client) FetchWithRetry(ctx context.Context, key string, maxAttempts int) ([]byte, error) {
	var data []byte
	err := withRetry(ctx, maxAttempts, func() error {
		var err error
		data, err = c.Fetch(ctx, key, DefaultTimeout)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// StoreWithRetry stores data under key with up to maxAttempts attempts.
func (c *Client) StoreWithRetry(ctx context.Context, key string, data []byte, contentType string, opts PutOptions, maxAttempts int) error {
	return withRetry(ctx, maxAttempts, func() error {
		return c.Store(ctx, key, data, contentType, opts, DefaultTimeout)
	})
}

// withRetry runs op up to maxAttempts times with linear backoff
// (250ms * attempt). Backoff respects ctx cancellation.
func withRetry(ctx context.Context, maxAttempts int, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = DefaultAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == maxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffStep * time.Duration(attempt)):
		}
	}
	return lastErr
}
