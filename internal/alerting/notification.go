package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"offer-sync-alerts/internal/detector"
)

// ErrNotConfigured is reported for every alert when no channel is configured.
var ErrNotConfigured = errors.New("alerting: no notification channel configured")

// Notification is the payload handed to a delivery channel.
type Notification struct {
	Kind            detector.Kind
	OfferID         string
	OfferName       string
	PreviousRaw     *string
	CurrentRaw      *string
	PreviousMinutes *float64
	CurrentMinutes  *float64
	PreviousStatus  string
	CurrentStatus   string
	DetectedAt      time.Time
	Summary         string
}

// NewNotification builds the payload for a fired rule.
func NewNotification(offerID, offerName string, alert detector.Alert, at time.Time) Notification {
	return Notification{
		Kind:            alert.Kind,
		OfferID:         offerID,
		OfferName:       offerName,
		PreviousRaw:     alert.Previous.ActivityRaw,
		CurrentRaw:      alert.Current.ActivityRaw,
		PreviousMinutes: alert.Previous.ActivityMinutes,
		CurrentMinutes:  alert.Current.ActivityMinutes,
		PreviousStatus:  alert.Previous.Status,
		CurrentStatus:   alert.Current.Status,
		DetectedAt:      at,
		Summary:         alert.Message(),
	}
}

// Notifier delivers a notification. A nil error means confirmed delivery.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// Title is the headline used by text channels.
func Title(kind detector.Kind) string {
	switch kind {
	case detector.KindDisappeared:
		return "Conversions disappeared"
	case detector.KindStatusChanged:
		return "Offer no longer active"
	case detector.KindSurge:
		return "Conversion age surge"
	case detector.KindMultiplied:
		return "Conversion age multiplied"
	default:
		return "Offer alert"
	}
}

func renderMessage(note Notification) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("[Offer Alert] %s\n", Title(note.Kind)))
	b.WriteString(fmt.Sprintf("Offer: %s (%s)\n", note.OfferName, note.OfferID))
	b.WriteString(fmt.Sprintf("Last conversion: %s -> %s\n", rawText(note.PreviousRaw), rawText(note.CurrentRaw)))
	b.WriteString(fmt.Sprintf("Minutes: %s -> %s\n", minutesText(note.PreviousMinutes), minutesText(note.CurrentMinutes)))
	if note.PreviousStatus != note.CurrentStatus {
		b.WriteString(fmt.Sprintf("Status: %s -> %s\n", note.PreviousStatus, note.CurrentStatus))
	}
	b.WriteString(fmt.Sprintf("Rule: %s\n", note.Kind))
	b.WriteString(fmt.Sprintf("Detected: %s UTC\n", note.DetectedAt.UTC().Format(time.RFC3339)))
	if note.Summary != "" {
		b.WriteString(note.Summary)
	}
	return b.String()
}

func rawText(s *string) string {
	if s == nil || *s == "" {
		return "none"
	}
	return *s
}

func minutesText(m *float64) string {
	if m == nil {
		return "none"
	}
	return fmt.Sprintf("%g", *m)
}
