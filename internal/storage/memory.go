package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process SyncStore used when no database is configured and
// in tests. State is lost on exit.
type Memory struct {
	mu        sync.Mutex
	offers    map[string]Offer
	snapshots []Snapshot
	alerts    []AlertRecord
	members   map[string]time.Time
	nextID    int64
	now       func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		offers:  make(map[string]Offer),
		members: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock replaces the time source used for default timestamps.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) UpsertOffers(_ context.Context, offers []Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, o := range offers {
		if prev, ok := m.offers[o.ID]; ok {
			o.CreatedAt = prev.CreatedAt
			if o.LastActivitySeenAt == nil {
				o.LastActivitySeenAt = prev.LastActivitySeenAt
			}
		} else {
			o.CreatedAt = now
		}
		o.UpdatedAt = now
		m.offers[o.ID] = o
	}
	return nil
}

func (m *Memory) ListOffers(_ context.Context, filter OfferFilter) ([]Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Offer, 0, len(m.offers))
	for _, o := range m.offers {
		if filter.Priority != "" && o.Priority != filter.Priority {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastActivityAt, out[j].LastActivityAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) LatestSnapshots(_ context.Context, offerIDs []string) (map[string]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(offerIDs))
	for _, id := range offerIDs {
		want[id] = true
	}
	latest := make(map[string]Snapshot)
	for _, snap := range m.snapshots {
		if !want[snap.OfferID] {
			continue
		}
		// Snapshots are appended in order, so the last match wins.
		latest[snap.OfferID] = snap
	}
	return latest, nil
}

func (m *Memory) InsertSnapshots(_ context.Context, snapshots []Snapshot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range snapshots {
		m.nextID++
		snap.ID = m.nextID
		if snap.CreatedAt.IsZero() {
			snap.CreatedAt = m.now()
		}
		m.snapshots = append(m.snapshots, snap)
	}
	return int64(len(snapshots)), nil
}

func (m *Memory) ListSnapshots(_ context.Context, offerID string, from, to time.Time, limit int) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0)
	for _, snap := range m.snapshots {
		if snap.OfferID != offerID || snap.CreatedAt.Before(from) || !snap.CreatedAt.Before(to) {
			continue
		}
		out = append(out, snap)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) AlertedSince(_ context.Context, offerIDs []string, since time.Time) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(offerIDs))
	for _, id := range offerIDs {
		want[id] = true
	}
	alerted := make(map[string]bool)
	for _, rec := range m.alerts {
		if want[rec.OfferID] && !rec.CreatedAt.Before(since) {
			alerted[rec.OfferID] = true
		}
	}
	return alerted, nil
}

func (m *Memory) InsertAlert(_ context.Context, alert AlertRecord) (AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	alert.ID = m.nextID
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = m.now()
	}
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *Memory) ListRecentAlerts(_ context.Context, limit int) ([]AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AlertRecord, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		out = append(out, m.alerts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListPriorityMembers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.members))
	for id := range m.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.members[ids[i]], m.members[ids[j]]
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

func (m *Memory) ReplacePriorityMembers(_ context.Context, offerIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = make(map[string]time.Time, len(offerIDs))
	now := m.now()
	for _, id := range offerIDs {
		m.members[id] = now
	}
	return nil
}

func (m *Memory) AddPriorityMembers(_ context.Context, offerIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, id := range offerIDs {
		if _, ok := m.members[id]; !ok {
			m.members[id] = now
		}
	}
	return nil
}

func (m *Memory) RemovePriorityMembers(_ context.Context, offerIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range offerIDs {
		delete(m.members, id)
	}
	return nil
}

var _ SyncStore = (*Memory)(nil)
