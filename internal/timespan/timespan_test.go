package timespan

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKnownFormats(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"5m", 5},
		{"2h", 120},
		{"1d", 1440},
		{"3d", 4320},
		{"51min", 51},
		{"0min", 0},
		{"6h18min", 378},
		{"1h58min", 118},
		{"just now", 0.5},
		{"now", 0.5},
		{"< 1m", 0.5},
		{"<1m", 0.5},
		{"< 5m", 2.5},
		{"< 2h", 60},
		{"< 1h", 30},
		{"30s", 0.5},
		{"1m30s", 1.5},
		{"5", 5},
		{"5M", 5},
		{"5H", 300},
		{"  12m  ", 12},
		{"JUST NOW", 0.5},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, ok := Parse(tc.raw)
			require.True(t, ok, "expected %q to parse", tc.raw)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "-5m", "abc", "5 minutes", "5w", "1.5h", "h5"} {
		_, ok := Parse(raw)
		assert.False(t, ok, "expected %q to be rejected", raw)
	}
}

func TestParsePtr(t *testing.T) {
	assert.Nil(t, ParsePtr(nil))

	bad := "never"
	assert.Nil(t, ParsePtr(&bad))

	good := "2h"
	got := ParsePtr(&good)
	require.NotNil(t, got)
	assert.Equal(t, 120.0, *got)
}

func TestApproxTimestampWithinWindow(t *testing.T) {
	for _, raw := range []string{"5m", "2h", "1m30s", "< 5m", "just now", "1d"} {
		minutes, ok := Parse(raw)
		require.True(t, ok)

		before := time.Now()
		ts, ok := ToApproxTimestamp(raw)
		after := time.Now()
		require.True(t, ok)

		lower := before.Add(-Duration(minutes)).Add(-time.Second)
		assert.False(t, ts.Before(lower), "%s: %s before %s", raw, ts, lower)
		assert.False(t, ts.After(after), "%s: %s after now", raw, ts)
	}
}

func TestApproxTimestampAt(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	ts, ok := ApproxTimestampAt("1m30s", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-90*time.Second), ts)

	_, ok = ApproxTimestampAt("-5m", now)
	assert.False(t, ok)
}

func TestDurationSaturates(t *testing.T) {
	assert.Equal(t, 90*time.Second, Duration(1.5))
	assert.Equal(t, time.Duration(math.MaxInt64), Duration(9999999999*1440))

	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	ts, ok := ApproxTimestampAt("9999999999d", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-time.Duration(math.MaxInt64)), ts)
	assert.True(t, ts.Before(now))
}
