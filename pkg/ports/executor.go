package ports

import "context"

// Executor runs tasks on the canvas event loop, one at a time.
// Do blocks until task has run, ctx is done, or the loop has stopped
// (domain.ErrClosed). A task must not block.
type Executor interface {
	Do(ctx context.Context, task func()) error
}
