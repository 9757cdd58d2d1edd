// Package store abstracts the shared mutable state used by the fraud and
// verification services (IP blocks, OTP records, attempt windows, device
// trust marks) behind a small key-value contract with TTL support and
// per-key atomic read-modify-write. Production deployments back it with
// Redis so multiple instances share state; tests use the in-process map
// implementation.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by reads of absent or expired keys.
var ErrNotFound = errors.New("store: key not found")

// UpdateFunc transforms the current value of a key inside an atomic
// read-modify-write. cur is nil when the key does not exist. Returning
// (nil, nil) deletes the key. Returning an error aborts the update and
// leaves the key untouched.
type UpdateFunc func(cur []byte) ([]byte, time.Duration, error)

// Store is the shared-state contract. All operations are safe for
// concurrent use; Update is linearizable per key.
type Store interface {
	// Get returns the raw value, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes the value with a TTL (0 means no expiry).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes only if the key is absent and reports whether it wrote.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes a key; removing an absent key is not an error.
	// It reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Update applies fn atomically with respect to other writers of key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Increment atomically adds one to an integer key, setting the TTL on
	// first write, and returns the new count.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Keys lists keys with the given prefix. Intended for sweeps and
	// admin listings over small key populations, not hot paths.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// TTL returns the remaining lifetime, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
