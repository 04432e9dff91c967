package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	m := New(NewMemory(), "offer-sync", time.Minute)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Acquire(ctx, NewToken())
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestReleaseRequiresOwnership(t *testing.T) {
	m := New(NewMemory(), "offer-sync", time.Minute)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	released, err := m.Release(ctx, "b")
	require.NoError(t, err)
	assert.False(t, released)

	ok, _ = m.Acquire(ctx, "b")
	assert.False(t, ok, "lease must still be held by a")

	released, err = m.Release(ctx, "a")
	require.NoError(t, err)
	assert.True(t, released)

	ok, _ = m.Acquire(ctx, "b")
	assert.True(t, ok)
}

func TestLeaseExpiresAndStaleOwnerCannotRelease(t *testing.T) {
	clock := newClock()
	m := New(NewMemory().WithClock(clock.Now), "offer-sync", time.Minute)
	ctx := context.Background()

	ok, _ := m.Acquire(ctx, "first")
	require.True(t, ok)

	clock.Advance(59 * time.Second)
	ok, _ = m.Acquire(ctx, "second")
	assert.False(t, ok)

	clock.Advance(2 * time.Second)
	ok, _ = m.Acquire(ctx, "second")
	require.True(t, ok, "expired lease should be taken over")

	released, _ := m.Release(ctx, "first")
	assert.False(t, released, "previous owner must not release the new lease")

	extended, _ := m.Extend(ctx, "first", time.Minute)
	assert.False(t, extended)
}

func TestExtendKeepsLeaseAlive(t *testing.T) {
	clock := newClock()
	m := New(NewMemory().WithClock(clock.Now), "offer-sync", time.Minute)
	ctx := context.Background()

	ok, _ := m.Acquire(ctx, "owner")
	require.True(t, ok)

	clock.Advance(50 * time.Second)
	extended, err := m.Extend(ctx, "owner", 2*time.Minute)
	require.NoError(t, err)
	require.True(t, extended)

	clock.Advance(90 * time.Second)
	ok, _ = m.Acquire(ctx, "other")
	assert.False(t, ok)

	clock.Advance(31 * time.Second)
	ok, _ = m.Acquire(ctx, "other")
	assert.True(t, ok)
}

func TestAcquireRejectsEmptyOwner(t *testing.T) {
	m := New(NewMemory(), "k", 0)
	assert.Equal(t, DefaultTTL, m.TTL())
	_, err := m.Acquire(context.Background(), "")
	assert.Error(t, err)
}

func TestKeepAliveReportsLostLease(t *testing.T) {
	backend := NewMemory()
	m := New(backend, "k", time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, _ := m.Acquire(ctx, "owner")
	require.True(t, ok)
	_, _ = backend.ReleaseLock(ctx, m.Key(), "owner")

	lost := make(chan struct{})
	go m.KeepAlive(ctx, "owner", 5*time.Millisecond, zerolog.Nop(), func() { close(lost) })

	select {
	case <-lost:
	case <-ctx.Done():
		t.Fatal("expected lost lease callback")
	}
}
