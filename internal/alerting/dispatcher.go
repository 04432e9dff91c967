package alerting

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentSends caps in-flight deliveries.
const DefaultMaxConcurrentSends = 5

// Delivery is the outcome of one send attempt.
type Delivery struct {
	Notification Notification
	Err          error
}

// Delivered reports confirmed delivery.
func (d Delivery) Delivered() bool { return d.Err == nil }

// Dispatcher sends notifications with bounded concurrency.
type Dispatcher struct {
	notifier Notifier
	limit    int64
	logger   zerolog.Logger
}

// NewDispatcher wraps notifier. A nil notifier is valid; every send then
// reports ErrNotConfigured.
func NewDispatcher(notifier Notifier, maxConcurrent int, logger zerolog.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSends
	}
	return &Dispatcher{
		notifier: notifier,
		limit:    int64(maxConcurrent),
		logger:   logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Configured reports whether a channel is attached.
func (d *Dispatcher) Configured() bool { return d != nil && d.notifier != nil }

// Send delivers every note and returns one Delivery per input, in order.
func (d *Dispatcher) Send(ctx context.Context, notes []Notification) []Delivery {
	out := make([]Delivery, len(notes))
	if !d.Configured() {
		for i, note := range notes {
			out[i] = Delivery{Notification: note, Err: ErrNotConfigured}
			d.logger.Info().
				Str("offer_id", note.OfferID).
				Str("kind", string(note.Kind)).
				Str("summary", note.Summary).
				Msg("notifier not configured; alert not sent")
		}
		return out
	}

	sem := semaphore.NewWeighted(d.limit)
	var wg sync.WaitGroup
	for i, note := range notes {
		out[i].Notification = note
		if err := sem.Acquire(ctx, 1); err != nil {
			out[i].Err = err
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			out[i].Err = d.notifier.Notify(ctx, note)
			if out[i].Err != nil {
				d.logger.Error().Err(out[i].Err).
					Str("offer_id", note.OfferID).
					Str("kind", string(note.Kind)).
					Msg("failed to dispatch alert")
			}
		}()
	}
	wg.Wait()
	return out
}
