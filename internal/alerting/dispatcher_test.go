package alerting

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, note Notification) error {
	args := m.Called(ctx, note)
	return args.Error(0)
}

type slowNotifier struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowNotifier) Notify(ctx context.Context, note Notification) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func TestDispatcherReportsPerNoteOutcome(t *testing.T) {
	m := new(mockNotifier)
	ok := sampleNote()
	bad := sampleNote()
	bad.OfferID = "2002"

	m.On("Notify", mock.Anything, mock.MatchedBy(func(n Notification) bool { return n.OfferID == "1001" })).Return(nil)
	m.On("Notify", mock.Anything, mock.MatchedBy(func(n Notification) bool { return n.OfferID == "2002" })).Return(errors.New("smtp down"))

	d := NewDispatcher(m, 5, zerolog.Nop())
	out := d.Send(context.Background(), []Notification{ok, bad})

	require.Len(t, out, 2)
	assert.True(t, out[0].Delivered())
	assert.Equal(t, "1001", out[0].Notification.OfferID)
	assert.False(t, out[1].Delivered())
	m.AssertNumberOfCalls(t, "Notify", 2)
}

func TestDispatcherCapsConcurrency(t *testing.T) {
	slow := &slowNotifier{}
	d := NewDispatcher(slow, 5, zerolog.Nop())

	notes := make([]Notification, 0, 30)
	for i := 0; i < 30; i++ {
		n := sampleNote()
		n.OfferID = strconv.Itoa(i)
		notes = append(notes, n)
	}

	out := d.Send(context.Background(), notes)
	require.Len(t, out, 30)
	for _, o := range out {
		assert.True(t, o.Delivered())
	}
	assert.LessOrEqual(t, slow.peak.Load(), int32(5))
	assert.Greater(t, slow.peak.Load(), int32(1))
}

func TestDispatcherWithoutNotifier(t *testing.T) {
	d := NewDispatcher(nil, 0, zerolog.Nop())
	assert.False(t, d.Configured())

	out := d.Send(context.Background(), []Notification{sampleNote()})
	require.Len(t, out, 1)
	assert.ErrorIs(t, out[0].Err, ErrNotConfigured)
}
