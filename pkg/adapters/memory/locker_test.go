package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwm/loom/pkg/adapters/memory"
)

func TestLocker_Exclusive(t *testing.T) {
	l := memory.NewLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		holders int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "main", time.Second)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			holders++
			peak = max(peak, holders)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			assert.NoError(t, unlock(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
	assert.Equal(t, 0, l.Len(), "entries are dropped once released")
}

func TestLocker_ContextCancel(t *testing.T) {
	l := memory.NewLocker()
	unlock, err := l.Lock(context.Background(), "main", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "main", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(context.Background(), "other", 0)
	require.NoError(t, err, "keys are independent")
	require.NoError(t, other(context.Background()))

	require.NoError(t, unlock(context.Background()))
	require.NoError(t, unlock(context.Background()), "unlocking twice is a no-op")
	assert.Equal(t, 0, l.Len())
}
