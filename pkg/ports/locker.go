package ports

import (
	"context"
	"time"
)

// UnlockFunc is a function that releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// Locker defines the interface for distributed concurrency control.
// It keeps two daemons from autosaving over each other's canvas.
type Locker interface {
	// Lock attempts to acquire a distributed lock for the given key (e.g., canvas ID).
	// It blocks until the lock is acquired or the context is canceled.
	// Returns an UnlockFunc that MUST be called to release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
