package memory

import (
	"context"
	"sync"
	"time"

	"github.com/loomwm/loom/pkg/ports"
)

// lockEntry holds the semaphore of one key and the number of holders and
// waiters referencing it.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// Locker implements ports.Locker inside one process. Entries are reference
// counted and dropped when nobody holds or waits for the key. The ttl is
// ignored: a lock is held until released.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

var _ ports.Locker = (*Locker)(nil)

// NewLocker creates an in-process locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

func (l *Locker) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(l.locks, key)
	}
}

// Lock blocks until key is free or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, _ time.Duration) (ports.UnlockFunc, error) {
	e := l.acquire(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-e.sem
			l.release(key)
		})
		return nil
	}, nil
}

// Len reports how many keys are held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
