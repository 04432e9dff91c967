package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offer-sync-alerts/internal/alerting"
	"offer-sync-alerts/internal/detector"
)

// SimulateOptions describe a synthetic previous/current observation pair.
type SimulateOptions struct {
	OfferID          string
	OfferName        string
	PreviousActivity string
	PreviousStatus   string
	CurrentActivity  string
	CurrentStatus    string
}

// SimulateAlert runs the rule engine on the given pair and, if a rule fires,
// sends it through the configured channel. Nothing is persisted.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	dispatcher := a.newDispatcher()
	if !dispatcher.Configured() {
		return alerting.ErrNotConfigured
	}

	prev := detector.NewObservation(optional(opts.PreviousActivity), opts.PreviousStatus)
	cur := detector.NewObservation(optional(opts.CurrentActivity), opts.CurrentStatus)

	alert, fired := detector.Evaluate(&prev, cur, a.thresholds())
	if !fired {
		fmt.Fprintln(a.Out, "no rule fired")
		return nil
	}

	note := alerting.NewNotification(opts.OfferID, opts.OfferName, alert, time.Now().UTC())
	for _, d := range dispatcher.Send(ctx, []alerting.Notification{note}) {
		if !d.Delivered() {
			return fmt.Errorf("deliver %s alert: %w", alert.Kind, d.Err)
		}
	}
	fmt.Fprintf(a.Out, "sent %s: %s\n", alert.Kind, alert.Message())
	return nil
}

// optional maps an empty flag to an absent value.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
