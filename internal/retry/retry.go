// Package retry wraps exponential backoff for transient broker and RPC
// failures. Bounded attempts only: callers that want to retry forever do so
// in their own loops.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultAttempts = 3
	initialInterval = time.Second
	multiplier      = 2
	jitter          = 0.1
)

// Do runs op up to 3 times with exponential backoff (1s, 2s, jittered) and
// returns the last error. Cancelling ctx stops the wait immediately.
func Do(ctx context.Context, op func() error) error {
	return DoN(ctx, defaultAttempts, op)
}

// DoN is Do with an explicit attempt count.
func DoN(ctx context.Context, attempts int, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.Multiplier = multiplier
	b.RandomizationFactor = jitter

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	return backoff.Retry(op, policy)
}
