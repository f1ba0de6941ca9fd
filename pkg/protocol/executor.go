package protocol

import (
	"context"
	"sync"
)

// Serial is a ports.Executor running tasks on the calling goroutine, one at
// a time. It serves embedders without an event loop and tests.
type Serial struct {
	mu sync.Mutex
}

func (s *Serial) Do(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task()
	return nil
}
