/**
 * @description
 * A small bounded-retry helper with randomized exponential backoff. It is used
 * at both contention sites (the allocator's conditional-update retry) and at
 * the ledger call sites for transient RPC failures, so both follow the same
 * policy shape.
 */

package app

import (
	"context"
	"math/rand"
	"time"
)

// BackoffPolicy bounds a retry loop: at most MaxAttempts tries, sleeping
// BaseDelay·2^n between them, capped at MaxDelay, with ±50% jitter.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultBackoff is the policy used when none is configured.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	// Jitter in [d/2, 3d/2) so concurrent claimants spread out.
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(2*half))
}

// Retry runs op until it succeeds, fails with a non-retryable error, the
// attempt budget runs out, or the context is cancelled. The last error is
// returned verbatim so callers can inspect it.
func Retry(ctx context.Context, policy BackoffPolicy, retryable func(error) bool, op func() error) error {
	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = op()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(policy.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
