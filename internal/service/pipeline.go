package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"offer-sync-alerts/internal/alerting"
	"offer-sync-alerts/internal/crawler"
	"offer-sync-alerts/internal/detector"
	"offer-sync-alerts/internal/fetcher"
	"offer-sync-alerts/internal/queue"
	"offer-sync-alerts/internal/storage"
)

// outcome is what one batch of fetched offers produced.
type outcome struct {
	processed int
	snapshots int
	alerts    int
	// recent and stale partition the processed ids by priority.
	recent []string
	stale  []string
}

func (o outcome) result(crawl crawler.Result) queue.Result {
	return queue.Result{
		OffersFetched:    len(crawl.Offers),
		OffersProcessed:  o.processed,
		SnapshotsWritten: o.snapshots,
		AlertsSent:       o.alerts,
		FailedUnits:      crawl.FailedUnits,
	}
}

type observed struct {
	offer     fetcher.Offer
	canonical detector.Canonical
	current   detector.Observation
	previous  *detector.Observation
}

// process persists offers and snapshots, fires alerts, and classifies
// priority. Previous snapshots are loaded once, before any write, so alert
// rules never see a snapshot written by this run.
func (s *Service) process(ctx context.Context, fetched []fetcher.Offer) (outcome, error) {
	var out outcome
	now := s.opts.Now().UTC()

	offers := uniqueOffers(fetched)
	if len(offers) == 0 {
		return out, nil
	}

	ids := make([]string, len(offers))
	for i, o := range offers {
		ids[i] = o.ID
	}

	latest, err := s.store.LatestSnapshots(ctx, ids)
	if err != nil {
		return out, fmt.Errorf("load latest snapshots: %w", err)
	}

	items := make([]observed, len(offers))
	rows := make([]storage.Offer, len(offers))
	for i, o := range offers {
		c := detector.Canonicalize(o, now)
		item := observed{offer: o, canonical: c, current: detector.NewObservation(o.LastActivity, o.Status)}
		if snap, ok := latest[o.ID]; ok {
			prev := detector.NewObservation(snap.ActivityRaw, snap.Status)
			item.previous = &prev
		}
		items[i] = item
		rows[i] = offerRow(o, c, now)

		if c.Priority == detector.PriorityHigh {
			out.recent = append(out.recent, o.ID)
		} else {
			out.stale = append(out.stale, o.ID)
		}
	}

	if err := s.store.UpsertOffers(ctx, rows); err != nil {
		return out, err
	}
	out.processed = len(rows)

	snapshots := make([]storage.Snapshot, 0)
	for _, item := range items {
		if detector.HasChanged(item.previous, item.current) {
			snapshots = append(snapshots, snapshotRow(item, now))
		}
	}
	written, err := s.store.InsertSnapshots(ctx, snapshots)
	if err != nil {
		return out, err
	}
	out.snapshots = int(written)

	if s.opts.AlertsEnabled {
		sent, err := s.alert(ctx, items, ids, now)
		if err != nil {
			return out, err
		}
		out.alerts = sent
	}
	return out, nil
}

// alert evaluates the rules, drops offers alerted within the dedup window,
// sends the rest and records each confirmed delivery.
func (s *Service) alert(ctx context.Context, items []observed, ids []string, now time.Time) (int, error) {
	alerted, err := s.store.AlertedSince(ctx, ids, now.Add(-s.opts.DedupWindow))
	if err != nil {
		return 0, fmt.Errorf("load recent alerts: %w", err)
	}

	notes := make([]alerting.Notification, 0)
	suppressed := 0
	for _, item := range items {
		a, fired := detector.Evaluate(item.previous, item.current, s.opts.Thresholds)
		if !fired {
			continue
		}
		if alerted[item.offer.ID] {
			suppressed++
			continue
		}
		notes = append(notes, alerting.NewNotification(item.offer.ID, item.offer.Name, a, now))
	}
	if suppressed > 0 {
		s.logger.Debug().Int("suppressed", suppressed).Msg("alerts suppressed by dedup window")
	}
	if len(notes) == 0 {
		return 0, nil
	}

	sent := 0
	for _, d := range s.dispatcher.Send(ctx, notes) {
		if !d.Delivered() {
			continue
		}
		n := d.Notification
		rec := storage.AlertRecord{
			OfferID:         n.OfferID,
			Kind:            string(n.Kind),
			PreviousRaw:     n.PreviousRaw,
			CurrentRaw:      n.CurrentRaw,
			PreviousMinutes: n.PreviousMinutes,
			CurrentMinutes:  n.CurrentMinutes,
			PreviousStatus:  n.PreviousStatus,
			CurrentStatus:   n.CurrentStatus,
			CreatedAt:       now,
		}
		if _, err := s.store.InsertAlert(ctx, rec); err != nil {
			// Delivered but unrecorded: the next run may alert again.
			s.logger.Error().Err(err).Str("offer_id", n.OfferID).Msg("failed to persist alert record")
			continue
		}
		sent++
	}
	return sent, nil
}

// uniqueOffers drops records without an id and keeps the first occurrence of
// each id, since overlapping pages can repeat an offer.
func uniqueOffers(in []fetcher.Offer) []fetcher.Offer {
	seen := make(map[string]struct{}, len(in))
	out := make([]fetcher.Offer, 0, len(in))
	for _, o := range in {
		o.ID = strings.TrimSpace(o.ID)
		if o.ID == "" {
			continue
		}
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		out = append(out, o)
	}
	return out
}

func offerRow(o fetcher.Offer, c detector.Canonical, now time.Time) storage.Offer {
	row := storage.Offer{
		ID:                  o.ID,
		Name:                o.Name,
		Status:              o.Status,
		Country:             o.Country,
		CountryName:         o.CountryName,
		Carrier:             o.Carrier,
		Vertical:            o.Vertical,
		Flow:                o.Flow,
		Payout:              c.Payout,
		Currency:            o.Currency,
		DailyCap:            c.DailyCap,
		FilledCap:           c.FilledCap,
		TypeTraffic:         o.TypeTraffic,
		LastActivityRaw:     c.ActivityRaw,
		LastActivityAt:      c.ActivityAt,
		LastActivityMinutes: c.ActivityMinutes,
		HasActivity:         c.ActivityMinutes != nil,
		Priority:            string(c.Priority),
	}
	if row.HasActivity {
		seen := now
		row.LastActivitySeenAt = &seen
	}
	return row
}

func snapshotRow(item observed, now time.Time) storage.Snapshot {
	return storage.Snapshot{
		OfferID:         item.offer.ID,
		ActivityRaw:     item.canonical.ActivityRaw,
		ActivityMinutes: item.canonical.ActivityMinutes,
		ActivityAt:      item.canonical.ActivityAt,
		FilledCap:       item.canonical.FilledCap,
		Payout:          item.canonical.Payout,
		Status:          item.offer.Status,
		CreatedAt:       now,
	}
}
