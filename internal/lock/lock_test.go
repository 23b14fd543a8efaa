package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockIsExclusive(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "c-1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "c-1", time.Minute)
	assert.ErrorIs(t, err, models.ErrAlreadyProcessing)

	other, err := l.Acquire(ctx, "c-2", time.Minute)
	require.NoError(t, err)
	other()

	release()
	release() // idempotent

	again, err := l.Acquire(ctx, "c-1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestMemoryLockExpires(t *testing.T) {
	l := NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	stale, err := l.Acquire(context.Background(), "c-1", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(context.Background(), "c-1", time.Minute)
	require.NoError(t, err)

	// releasing the expired holder must not free the new one
	stale()
	_, err = l.Acquire(context.Background(), "c-1", time.Minute)
	assert.ErrorIs(t, err, models.ErrAlreadyProcessing)
	fresh()
}

func TestMemoryLockConcurrentAcquire(t *testing.T) {
	l := NewMemory()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "hot", time.Minute); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
