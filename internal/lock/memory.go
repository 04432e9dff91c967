package lock

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// Memory is a process-local Backend for single instance deployments and tests.
type Memory struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{leases: make(map[string]lease), now: time.Now}
}

// WithClock replaces the time source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) held(key string) (lease, bool) {
	l, ok := m.leases[key]
	if !ok {
		return lease{}, false
	}
	if !m.now().Before(l.expiresAt) {
		delete(m.leases, key)
		return lease{}, false
	}
	return l, true
}

// TryAcquireLock implements Backend.
func (m *Memory) TryAcquireLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held(key); ok {
		return false, nil
	}
	m.leases[key] = lease{owner: owner, expiresAt: m.now().Add(ttl)}
	return true, nil
}

// ReleaseLock implements Backend.
func (m *Memory) ReleaseLock(_ context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.held(key)
	if !ok || l.owner != owner {
		return false, nil
	}
	delete(m.leases, key)
	return true, nil
}

// ExtendLock implements Backend.
func (m *Memory) ExtendLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.held(key)
	if !ok || l.owner != owner {
		return false, nil
	}
	l.expiresAt = m.now().Add(ttl)
	m.leases[key] = l
	return true, nil
}

var _ Backend = (*Memory)(nil)
