// Package kv defines the shared atomic key-value contract backing the rate
// limiter and abuse detector, plus its Redis implementation.
//
// The contract is deliberately minimal: get, set-with-TTL, atomic increment,
// and compare-and-swap, with delete for administrative resets. Any store
// providing those primitives is interchangeable; a plain read-then-write
// store is NOT sufficient, because concurrent callers could double-spend a
// rate-limit slot.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached. Callers
// decide between fail-open and fail-closed; this package only classifies.
var ErrUnavailable = errors.New("kv store unavailable")

// Store is the shared atomic key-value contract. All operations are safe for
// concurrent use and are bounded by the caller's context.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetWithTTL unconditionally writes value with the given TTL.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the counter at key and refreshes its TTL.
	// Refreshing on every call gives counters sliding-window semantics.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// CompareAndSwap writes next with the given TTL only if the current
	// value equals old. An empty old means "only if the key is absent".
	// Returns whether the swap happened.
	CompareAndSwap(ctx context.Context, key, old, next string, ttl time.Duration) (bool, error)

	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
}
