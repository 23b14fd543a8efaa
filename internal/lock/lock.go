// Package lock provides per-complaint mutual exclusion for pipeline runs.
// A second run for the same complaint fails fast with ErrAlreadyProcessing.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
)

// Locker grants exclusive, expiring ownership of a key
type Locker interface {
	// Acquire returns a release func, or ErrAlreadyProcessing when the key is held
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Memory is a process-local Locker
type Memory struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewMemory creates an in-process locker
func NewMemory() *Memory {
	return &Memory{held: make(map[string]time.Time), clock: time.Now}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if until, ok := m.held[key]; ok && now.Before(until) {
		return nil, models.ErrAlreadyProcessing
	}
	until := now.Add(ttl)
	m.held[key] = until

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// a newer holder may own the key after expiry
			if m.held[key].Equal(until) {
				delete(m.held, key)
			}
		})
	}, nil
}
