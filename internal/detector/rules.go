// Package detector decides whether a freshly fetched offer warrants a new
// snapshot and whether its change against the previous snapshot should alert.
package detector

import (
	"fmt"
	"time"

	"offer-sync-alerts/internal/timespan"
)

// ActiveStatus is the one status value the rules treat specially.
const ActiveStatus = "Active"

// Kind names an alert rule.
type Kind string

const (
	KindDisappeared   Kind = "conv_disappeared"
	KindStatusChanged Kind = "status_changed"
	KindSurge         Kind = "conv_time_surge"
	KindMultiplied    Kind = "conv_time_multiplied"
)

// Thresholds parameterise the rule set.
type Thresholds struct {
	// AlertMinutes is the activity age above which surge/multiplied rules fire.
	AlertMinutes float64
	// Multiple is the growth factor for the multiplied rule.
	Multiple float64
	// DisappearBelow is the previous age under which a vanished value alerts.
	DisappearBelow float64
	// SurgeBelow is the previous age under which the surge rule applies.
	SurgeBelow float64
}

// DefaultThresholds returns 10 minutes, 5x, 30 minutes, 1 minute.
func DefaultThresholds() Thresholds {
	return Thresholds{AlertMinutes: 10, Multiple: 5, DisappearBelow: 30, SurgeBelow: 1}
}

// Observation is the part of an offer the rules look at.
type Observation struct {
	ActivityRaw     *string
	ActivityMinutes *float64
	Status          string
}

// NewObservation parses raw into minutes.
func NewObservation(raw *string, status string) Observation {
	return Observation{ActivityRaw: raw, ActivityMinutes: timespan.ParsePtr(raw), Status: status}
}

// Alert is a fired rule together with the observations that triggered it.
type Alert struct {
	Kind     Kind
	Previous Observation
	Current  Observation
}

// Message renders a one-line human description of the alert.
func (a Alert) Message() string {
	switch a.Kind {
	case KindDisappeared:
		return fmt.Sprintf("conversions disappeared: %s -> none", rawOrNone(a.Previous.ActivityRaw))
	case KindStatusChanged:
		return fmt.Sprintf("status changed: %s -> %s", a.Previous.Status, a.Current.Status)
	case KindSurge:
		return fmt.Sprintf("conversion age surged: %s -> %s minutes", minutesOrNone(a.Previous.ActivityMinutes), minutesOrNone(a.Current.ActivityMinutes))
	case KindMultiplied:
		ratio := *a.Current.ActivityMinutes / *a.Previous.ActivityMinutes
		return fmt.Sprintf("conversion age multiplied: %s -> %s minutes (%.1fx)", minutesOrNone(a.Previous.ActivityMinutes), minutesOrNone(a.Current.ActivityMinutes), ratio)
	default:
		return fmt.Sprintf("unknown alert kind %q", string(a.Kind))
	}
}

// HasChanged reports whether cur differs from prev in a tracked field, or
// prev is absent.
func HasChanged(prev *Observation, cur Observation) bool {
	if prev == nil {
		return true
	}
	return !sameRaw(prev.ActivityRaw, cur.ActivityRaw) || prev.Status != cur.Status
}

// Evaluate applies the rules in order and returns the first that fires.
// Nothing fires without a previous observation.
func Evaluate(prev *Observation, cur Observation, th Thresholds) (Alert, bool) {
	if prev == nil {
		return Alert{}, false
	}
	p, c := prev.ActivityMinutes, cur.ActivityMinutes
	fire := func(k Kind) (Alert, bool) {
		return Alert{Kind: k, Previous: *prev, Current: cur}, true
	}

	if p != nil && *p < th.DisappearBelow && c == nil {
		return fire(KindDisappeared)
	}
	if prev.Status == ActiveStatus && cur.Status != ActiveStatus {
		return fire(KindStatusChanged)
	}
	if p != nil && *p < th.SurgeBelow && c != nil && *c > th.AlertMinutes {
		return fire(KindSurge)
	}
	if p != nil && *p >= th.SurgeBelow && c != nil && *c > *p*th.Multiple && *c > th.AlertMinutes {
		return fire(KindMultiplied)
	}
	return Alert{}, false
}

// Priority is the high/low classification driving the active sweep.
type Priority string

const (
	PriorityHigh Priority = "HIGH"
	PriorityLow  Priority = "LOW"
)

// RecentWindow bounds how old activity may be for an offer to rank high.
const RecentWindow = 24 * time.Hour

// Classify returns PriorityHigh when activityAt lies within RecentWindow of now.
func Classify(activityAt *time.Time, now time.Time) Priority {
	if activityAt == nil {
		return PriorityLow
	}
	if now.Sub(*activityAt) <= RecentWindow {
		return PriorityHigh
	}
	return PriorityLow
}

func sameRaw(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func rawOrNone(s *string) string {
	if s == nil || *s == "" {
		return "none"
	}
	return *s
}

func minutesOrNone(m *float64) string {
	if m == nil {
		return "none"
	}
	return fmt.Sprintf("%g", *m)
}
