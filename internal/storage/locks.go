package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"offer-sync-alerts/internal/lock"
)

const (
	acquireLockSQL = `INSERT INTO sync_locks (key, owner, expires_at)
    VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
    ON CONFLICT (key) DO UPDATE
    SET owner      = EXCLUDED.owner,
        expires_at = EXCLUDED.expires_at
    WHERE sync_locks.expires_at <= now()
    RETURNING owner;`

	releaseLockSQL = `DELETE FROM sync_locks WHERE key = $1 AND owner = $2;`

	extendLockSQL = `UPDATE sync_locks
    SET expires_at = now() + ($3::bigint * interval '1 millisecond')
    WHERE key = $1
      AND owner = $2
      AND expires_at > now();`
)

// TryAcquireLock inserts the lease row, or takes over an expired one.
func (s *Store) TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var holder string
	scanErr := pool.QueryRow(ctx, acquireLockSQL, key, owner, ttl.Milliseconds()).Scan(&holder)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return false, nil
	}
	if scanErr != nil {
		return false, fmt.Errorf("acquire lock: %w", scanErr)
	}
	return holder == owner, nil
}

// ReleaseLock deletes the lease only while owner still holds it.
func (s *Store) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, releaseLockSQL, key, owner)
	if execErr != nil {
		return false, fmt.Errorf("release lock: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// ExtendLock pushes the expiry of an unexpired lease held by owner.
func (s *Store) ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, extendLockSQL, key, owner, ttl.Milliseconds())
	if execErr != nil {
		return false, fmt.Errorf("extend lock: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

var _ lock.Backend = (*Store)(nil)
