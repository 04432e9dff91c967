package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorWrapsAfterLastPage(t *testing.T) {
	c := NewCursor(10, 120)

	got := make([]PageRange, 0, 13)
	for i := 0; i < 13; i++ {
		got = append(got, c.Next())
	}

	assert.Equal(t, PageRange{Start: 1, End: 10}, got[0])
	assert.Equal(t, PageRange{Start: 111, End: 120}, got[11])
	assert.Equal(t, PageRange{Start: 1, End: 10}, got[12])
	assert.Equal(t, 11, c.Position())
}

func TestCursorShortLastChunk(t *testing.T) {
	c := NewCursor(10, 25)
	assert.Equal(t, PageRange{Start: 1, End: 10}, c.Next())
	assert.Equal(t, PageRange{Start: 11, End: 20}, c.Next())
	assert.Equal(t, PageRange{Start: 21, End: 25}, c.Next())
	assert.Equal(t, PageRange{Start: 1, End: 10}, c.Next())
}

func TestChunks(t *testing.T) {
	whole := Chunks(1, 0, 10, 120)
	require.Len(t, whole, 12)
	assert.Equal(t, PageRange{Start: 111, End: 120}, whole[11])

	assert.Equal(t, []PageRange{{Start: 5, End: 14}, {Start: 15, End: 17}}, Chunks(5, 13, 10, 120))
	assert.Equal(t, []PageRange{{Start: 115, End: 120}}, Chunks(115, 50, 10, 120), "clamped to the catalog")
	assert.Empty(t, Chunks(130, 5, 10, 120))
}

func TestNextTickAlignment(t *testing.T) {
	s := New(Options{Interval: 2 * time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 5, 1, 10, 3, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 4, 0, 0, time.UTC), s.nextTick(now))

	free := New(Options{Interval: 2 * time.Minute}, zerolog.Nop())
	assert.Equal(t, now.Add(2*time.Minute), free.nextTick(now))
}

func TestRunInvokesTickUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond, RunImmediately: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, _ time.Time) error {
			if ticks.Add(1) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, ticks.Load(), int32(3))
}
