// Package timespan parses the human-readable "time since last conversion"
// strings reported by the upstream listing into minutes.
package timespan

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	hourMinRe  = regexp.MustCompile(`^(\d+)h(\d+)min$`)
	minRe      = regexp.MustCompile(`^(\d+)min$`)
	unitRe     = regexp.MustCompile(`^(\d+)([mhd])$`)
	lessThanRe = regexp.MustCompile(`^<\s*(\d+)([mhd])$`)
	minSecRe   = regexp.MustCompile(`^(\d+)m(\d+)s$`)
	secRe      = regexp.MustCompile(`^(\d+)s$`)
	bareRe     = regexp.MustCompile(`^(\d+)$`)
)

// justNow is the value used for "now" style inputs and "< 1m".
const justNow = 0.5

var unitMinutes = map[string]float64{
	"m": 1,
	"h": 60,
	"d": 1440,
}

// Parse converts raw into minutes. The second return value is false when raw
// is empty or matches none of the known formats. Results may be fractional.
func Parse(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}

	if m := hourMinRe.FindStringSubmatch(s); m != nil {
		h, ok1 := atof(m[1])
		mins, ok2 := atof(m[2])
		if !ok1 || !ok2 {
			return 0, false
		}
		return h*60 + mins, true
	}

	if m := minRe.FindStringSubmatch(s); m != nil {
		return atof(m[1])
	}

	if m := unitRe.FindStringSubmatch(s); m != nil {
		v, ok := atof(m[1])
		if !ok {
			return 0, false
		}
		return v * unitMinutes[m[2]], true
	}

	if s == "now" || s == "just now" {
		return justNow, true
	}

	if m := lessThanRe.FindStringSubmatch(s); m != nil {
		v, ok := atof(m[1])
		if !ok {
			return 0, false
		}
		if v == 1 && m[2] == "m" {
			return justNow, true
		}
		return v * 0.5 * unitMinutes[m[2]], true
	}

	if m := minSecRe.FindStringSubmatch(s); m != nil {
		mins, ok1 := atof(m[1])
		secs, ok2 := atof(m[2])
		if !ok1 || !ok2 {
			return 0, false
		}
		return mins + secs/60, true
	}

	if m := secRe.FindStringSubmatch(s); m != nil {
		secs, ok := atof(m[1])
		if !ok {
			return 0, false
		}
		return secs / 60, true
	}

	if m := bareRe.FindStringSubmatch(s); m != nil {
		return atof(m[1])
	}

	return 0, false
}

// ParsePtr is Parse for optional values; nil and unparseable input yield nil.
func ParsePtr(raw *string) *float64 {
	if raw == nil {
		return nil
	}
	v, ok := Parse(*raw)
	if !ok {
		return nil
	}
	return &v
}

// ToApproxTimestamp returns now minus the parsed span.
func ToApproxTimestamp(raw string) (time.Time, bool) {
	return ApproxTimestampAt(raw, time.Now())
}

// ApproxTimestampAt is ToApproxTimestamp against a caller supplied instant.
func ApproxTimestampAt(raw string, now time.Time) (time.Time, bool) {
	minutes, ok := Parse(raw)
	if !ok {
		return time.Time{}, false
	}
	return now.Add(-Duration(minutes)), true
}

// Duration converts fractional minutes to a time.Duration, saturating at the
// bounds of time.Duration.
func Duration(minutes float64) time.Duration {
	ns := minutes * float64(time.Minute)
	switch {
	case ns >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	case ns <= math.MinInt64:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ns)
}

func atof(digits string) (float64, bool) {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(n), true
}
