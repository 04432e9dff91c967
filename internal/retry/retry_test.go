package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errThrottled = errors.New("429 too many requests")
	errBroken    = errors.New("500 internal")
)

func isThrottled(err error) bool { return errors.Is(err, errThrottled) }

func recordingPolicy(delays *[]time.Duration) Policy {
	p := DefaultPolicy(isThrottled)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func TestDoSucceedsAfterThrottling(t *testing.T) {
	var delays []time.Duration
	calls := 0

	got, err := Do(context.Background(), recordingPolicy(&delays), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errThrottled
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	var delays []time.Duration
	calls := 0

	_, err := Do(context.Background(), recordingPolicy(&delays), func(ctx context.Context) (int, error) {
		calls++
		return 0, errThrottled
	})

	require.ErrorIs(t, err, errThrottled)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestDoFailsFastOnOtherErrors(t *testing.T) {
	var delays []time.Duration
	calls := 0

	_, err := Do(context.Background(), recordingPolicy(&delays), func(ctx context.Context) (int, error) {
		calls++
		return 0, errBroken
	})

	require.ErrorIs(t, err, errBroken)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := DefaultPolicy(isThrottled)
	p.BaseDelay = time.Hour

	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		return 0, errThrottled
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoReportsRetries(t *testing.T) {
	var attempts []int
	p := DefaultPolicy(isThrottled)
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	p.OnRetry = func(attempt int, _ time.Duration, _ error) { attempts = append(attempts, attempt) }

	_, _ = Do(context.Background(), p, func(ctx context.Context) (int, error) { return 0, errThrottled })
	assert.Equal(t, []int{1, 2, 3}, attempts)
}
