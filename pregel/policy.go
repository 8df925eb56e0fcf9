package pregel

import (
	"math/rand"
	"time"
)

// NodePolicy configures the execution behavior of a single NodeSpec: how
// long a task for it may run and how to retry a failed attempt. It also
// carries cache and idempotency settings that the engine does not read.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for a task on this
	// node. If zero, the engine's WithDefaultNodeTimeout applies.
	Timeout time.Duration

	// RetryPolicy specifies automatic retry behavior for transient
	// failures. If nil, a failed task fails its superstep immediately.
	RetryPolicy *RetryPolicy

	// CachePolicy holds result-caching settings for this node. The engine
	// does not read it: every planned task runs its node.
	CachePolicy *CachePolicy

	// IdempotencyKeyFunc generates a custom idempotency key from a task's
	// input. The engine does not call it; task IDs are always derived from
	// namespace, step, node and the task's discriminator.
	IdempotencyKeyFunc func(input any) string
}

// RetryPolicy defines automatic retry configuration for transient task
// failures. When a task fails, the policy determines whether the failure
// is retryable and how long to wait before the next attempt. Exponential
// backoff with jitter avoids thundering-herd retries across concurrently
// failing tasks in the same superstep.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts (including
	// the initial attempt). Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between
	// retries. The actual delay is min(BaseDelay*2^attempt, MaxDelay) plus
	// jitter.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay cap for exponential backoff. Must be
	// >= BaseDelay when both are set.
	MaxDelay time.Duration

	// Retryable decides whether an error should trigger a retry. If nil,
	// no errors are retried.
	Retryable func(error) bool
}

// CachePolicy describes per-node result caching: how to key a task's input
// and how long a cached result stays valid. The engine does not consult it;
// tasks are always executed, never served from a cache.
type CachePolicy struct {
	// KeyFunc derives a cache key from a task's input. If nil, the input
	// is matched by deep equality instead.
	KeyFunc func(input any) string

	// TTL bounds how long a cached result remains eligible for reuse. Zero
	// means cached results never expire on their own.
	TTL time.Duration
}

// computeBackoff calculates the delay before retrying a failed task using
// exponential backoff with jitter:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// attempt is zero-based (0 = delay before the first retry). rng supplies
// the jitter source; pass nil only outside of deterministic replay.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	exponentialDelay := base * (1 << attempt)
	if exponentialDelay > maxDelay {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if base > 0 {
		if rng != nil {
			jitter = time.Duration(rng.Int63n(int64(base)))
		} else {
			jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
		}
	}

	return exponentialDelay + jitter
}

// Validate checks the RetryPolicy for internal consistency:
//   - MaxAttempts must be >= 1 (1 means no retries, just the initial attempt)
//   - if both MaxDelay and BaseDelay are > 0, MaxDelay must be >= BaseDelay
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}
