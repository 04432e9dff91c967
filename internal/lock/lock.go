// Package lock provides a TTL lease keyed by name with owner checked release,
// used to keep sync runs from overlapping.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long a lease survives without being extended.
const DefaultTTL = 10 * time.Minute

// Backend stores leases. Every method must be atomic with respect to others
// on the same key.
type Backend interface {
	// TryAcquireLock sets key to owner if it is free or expired.
	TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// ReleaseLock deletes key only while owner holds it.
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
	// ExtendLock resets the expiry only while owner holds it.
	ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

// Mutex is a named lease on a Backend.
type Mutex struct {
	backend Backend
	key     string
	ttl     time.Duration
}

// New returns a Mutex for key. ttl <= 0 selects DefaultTTL.
func New(backend Backend, key string, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mutex{backend: backend, key: "lock:" + key, ttl: ttl}
}

// NewToken returns a fresh owner token.
func NewToken() string { return uuid.NewString() }

// Key returns the backend key.
func (m *Mutex) Key() string { return m.key }

// TTL returns the lease duration used by Acquire.
func (m *Mutex) TTL() time.Duration { return m.ttl }

// Acquire tries to take the lease for owner. False means someone else holds it.
func (m *Mutex) Acquire(ctx context.Context, owner string) (bool, error) {
	if owner == "" {
		return false, errors.New("lock: empty owner token")
	}
	ok, err := m.backend.TryAcquireLock(ctx, m.key, owner, m.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", m.key, err)
	}
	return ok, nil
}

// Release gives the lease back. It returns false when owner no longer holds it.
func (m *Mutex) Release(ctx context.Context, owner string) (bool, error) {
	ok, err := m.backend.ReleaseLock(ctx, m.key, owner)
	if err != nil {
		return false, fmt.Errorf("release %s: %w", m.key, err)
	}
	return ok, nil
}

// Extend pushes the expiry to now+ttl while owner still holds the lease.
func (m *Mutex) Extend(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	ok, err := m.backend.ExtendLock(ctx, m.key, owner, ttl)
	if err != nil {
		return false, fmt.Errorf("extend %s: %w", m.key, err)
	}
	return ok, nil
}

// KeepAlive extends the lease every interval until ctx is done. It stops
// early if the lease is lost and calls onLost in that case.
func (m *Mutex) KeepAlive(ctx context.Context, owner string, interval time.Duration, logger zerolog.Logger, onLost func()) {
	if interval <= 0 {
		interval = m.ttl / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.Extend(ctx, owner, m.ttl)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn().Err(err).Str("lock", m.key).Msg("lease extension failed")
				continue
			}
			if !ok {
				logger.Error().Str("lock", m.key).Msg("lease lost")
				if onLost != nil {
					onLost()
				}
				return
			}
		}
	}
}
