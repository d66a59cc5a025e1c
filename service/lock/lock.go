// Package lock provides non-blocking per-key mutual exclusion. A failed
// TryLock is reported to the caller instead of waiting, so the loser of a
// race can surface a conflict.
package lock

import (
	"context"
	"sync"
)

// Locker acquires named locks without blocking.
type Locker interface {
	// TryLock returns (unlock, true, nil) when the key was free.
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// Memory is a process-local Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// TryLock implements Locker.
func (m *Memory) TryLock(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, false, nil
	}
	m.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, true, nil
}

// Held returns the number of keys currently locked.
func (m *Memory) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

// NewMemory creates a process-local locker.
func NewMemory() *Memory {
	return &Memory{held: map[string]struct{}{}}
}
