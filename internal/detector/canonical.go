package detector

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"offer-sync-alerts/internal/fetcher"
	"offer-sync-alerts/internal/timespan"
)

// Canonical holds the typed values derived from an upstream record.
type Canonical struct {
	Payout          decimal.Decimal
	DailyCap        *int64
	FilledCap       *int64
	ActivityRaw     *string
	ActivityMinutes *float64
	ActivityAt      *time.Time
	Priority        Priority
}

// Canonicalize derives typed fields from o as observed at now. Unparseable
// payouts become zero and unparseable caps become nil.
func Canonicalize(o fetcher.Offer, now time.Time) Canonical {
	c := Canonical{
		Payout:      parsePayout(o.Payout.String()),
		DailyCap:    parseCap(o.DailyCap.String()),
		FilledCap:   parseCap(o.FilledCap.String()),
		ActivityRaw: o.LastActivity,
	}
	if o.LastActivity != nil {
		if minutes, ok := timespan.Parse(*o.LastActivity); ok {
			at := now.Add(-timespan.Duration(minutes))
			c.ActivityMinutes = &minutes
			c.ActivityAt = &at
		}
	}
	c.Priority = Classify(c.ActivityAt, now)
	return c
}

func parsePayout(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseCap(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	n := d.IntPart()
	return &n
}
