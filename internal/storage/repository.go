package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertChunkSize      = 500
	upsertMaxConcurrency = 4
)

const (
	upsertOfferSQL = `INSERT INTO offers (
        id,
        name,
        status,
        country,
        country_name,
        carrier,
        vertical,
        flow,
        payout,
        currency,
        daily_cap,
        filled_cap,
        type_traffic,
        last_activity_raw,
        last_activity_at,
        last_activity_minutes,
        has_activity,
        last_activity_seen_at,
        priority
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
    )
    ON CONFLICT (id) DO UPDATE
    SET
        name                  = EXCLUDED.name,
        status                = EXCLUDED.status,
        country               = EXCLUDED.country,
        country_name          = EXCLUDED.country_name,
        carrier               = EXCLUDED.carrier,
        vertical              = EXCLUDED.vertical,
        flow                  = EXCLUDED.flow,
        payout                = EXCLUDED.payout,
        currency              = EXCLUDED.currency,
        daily_cap             = EXCLUDED.daily_cap,
        filled_cap            = EXCLUDED.filled_cap,
        type_traffic          = EXCLUDED.type_traffic,
        last_activity_raw     = EXCLUDED.last_activity_raw,
        last_activity_at      = EXCLUDED.last_activity_at,
        last_activity_minutes = EXCLUDED.last_activity_minutes,
        has_activity          = EXCLUDED.has_activity,
        last_activity_seen_at = COALESCE(EXCLUDED.last_activity_seen_at, offers.last_activity_seen_at),
        priority              = EXCLUDED.priority,
        updated_at            = now();`

	listOffersSQL = `SELECT
        id,
        name,
        status,
        country,
        country_name,
        carrier,
        vertical,
        flow,
        payout::text,
        currency,
        daily_cap,
        filled_cap,
        type_traffic,
        last_activity_raw,
        last_activity_at,
        last_activity_minutes,
        has_activity,
        last_activity_seen_at,
        priority,
        created_at,
        updated_at
    FROM offers
    WHERE ($1 = '' OR priority = $1)
    ORDER BY last_activity_at DESC NULLS LAST, id
    LIMIT $2;`

	latestSnapshotsSQL = `SELECT DISTINCT ON (offer_id)
        id,
        offer_id,
        activity_raw,
        activity_minutes,
        activity_at,
        filled_cap,
        payout::text,
        status,
        created_at
    FROM offer_snapshots
    WHERE offer_id = ANY($1)
    ORDER BY offer_id, created_at DESC, id DESC;`

	listSnapshotsSQL = `SELECT
        id,
        offer_id,
        activity_raw,
        activity_minutes,
        activity_at,
        filled_cap,
        payout::text,
        status,
        created_at
    FROM offer_snapshots
    WHERE offer_id = $1
      AND created_at >= $2
      AND created_at < $3
    ORDER BY created_at, id
    LIMIT $4;`

	alertedSinceSQL = `SELECT DISTINCT offer_id
    FROM offer_alerts
    WHERE offer_id = ANY($1)
      AND created_at >= $2;`

	insertAlertSQL = `INSERT INTO offer_alerts (
        offer_id,
        kind,
        previous_raw,
        current_raw,
        previous_minutes,
        current_minutes,
        previous_status,
        current_status,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        offer_id,
        kind,
        previous_raw,
        current_raw,
        previous_minutes,
        current_minutes,
        previous_status,
        current_status,
        created_at
    FROM offer_alerts
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	listPriorityMembersSQL   = `SELECT offer_id FROM priority_members ORDER BY added_at, offer_id;`
	clearPriorityMembersSQL  = `DELETE FROM priority_members;`
	addPriorityMembersSQL    = `INSERT INTO priority_members (offer_id) SELECT unnest($1::text[]) ON CONFLICT (offer_id) DO NOTHING;`
	removePriorityMembersSQL = `DELETE FROM priority_members WHERE offer_id = ANY($1);`
)

// OfferStore persists the canonical offer table.
type OfferStore interface {
	UpsertOffers(ctx context.Context, offers []Offer) error
	ListOffers(ctx context.Context, filter OfferFilter) ([]Offer, error)
}

// SnapshotStore persists change snapshots.
type SnapshotStore interface {
	LatestSnapshots(ctx context.Context, offerIDs []string) (map[string]Snapshot, error)
	InsertSnapshots(ctx context.Context, snapshots []Snapshot) (int64, error)
	ListSnapshots(ctx context.Context, offerID string, from, to time.Time, limit int) ([]Snapshot, error)
}

// AlertStore defines operations for alert auditing and de-duplication.
type AlertStore interface {
	AlertedSince(ctx context.Context, offerIDs []string, since time.Time) (map[string]bool, error)
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// PriorityStore maintains the set of offers polled by the active sweep.
type PriorityStore interface {
	ListPriorityMembers(ctx context.Context) ([]string, error)
	ReplacePriorityMembers(ctx context.Context, offerIDs []string) error
	AddPriorityMembers(ctx context.Context, offerIDs []string) error
	RemovePriorityMembers(ctx context.Context, offerIDs []string) error
}

// SyncStore is everything the sync pipeline reads and writes.
type SyncStore interface {
	OfferStore
	SnapshotStore
	AlertStore
	PriorityStore
}

// Store is the PostgreSQL implementation of SyncStore. It also backs the
// distributed lock and the job queue.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertOffers writes offers in chunks, a few chunks at a time.
func (s *Store) UpsertOffers(ctx context.Context, offers []Offer) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(offers) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(upsertMaxConcurrency)
	for start := 0; start < len(offers); start += upsertChunkSize {
		chunk := offers[start:min(start+upsertChunkSize, len(offers))]
		g.Go(func() error {
			return upsertOfferChunk(gctx, pool, chunk)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("upsert offers: %w", err)
	}
	return nil
}

func upsertOfferChunk(ctx context.Context, pool *pgxpool.Pool, offers []Offer) error {
	batch := &pgx.Batch{}
	for _, o := range offers {
		batch.Queue(upsertOfferSQL,
			o.ID,
			o.Name,
			o.Status,
			o.Country,
			o.CountryName,
			o.Carrier,
			o.Vertical,
			o.Flow,
			numeric(o.Payout),
			o.Currency,
			o.DailyCap,
			o.FilledCap,
			o.TypeTraffic,
			o.LastActivityRaw,
			o.LastActivityAt,
			o.LastActivityMinutes,
			o.HasActivity,
			o.LastActivitySeenAt,
			o.Priority,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, o := range offers {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("offer %s: %w", o.ID, err)
		}
	}
	return results.Close()
}

// ListOffers lists tracked offers, most recently active first.
func (s *Store) ListOffers(ctx context.Context, filter OfferFilter) ([]Offer, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOffersSQL, filter.Priority, limitOrAll(filter.Limit))
	if queryErr != nil {
		return nil, fmt.Errorf("list offers: %w", queryErr)
	}
	defer rows.Close()

	offers := make([]Offer, 0)
	for rows.Next() {
		var (
			o      Offer
			payout string
		)
		if err := rows.Scan(
			&o.ID,
			&o.Name,
			&o.Status,
			&o.Country,
			&o.CountryName,
			&o.Carrier,
			&o.Vertical,
			&o.Flow,
			&payout,
			&o.Currency,
			&o.DailyCap,
			&o.FilledCap,
			&o.TypeTraffic,
			&o.LastActivityRaw,
			&o.LastActivityAt,
			&o.LastActivityMinutes,
			&o.HasActivity,
			&o.LastActivitySeenAt,
			&o.Priority,
			&o.CreatedAt,
			&o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if o.Payout, err = decimal.NewFromString(payout); err != nil {
			return nil, fmt.Errorf("parse payout: %w", err)
		}
		offers = append(offers, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return offers, nil
}

// LatestSnapshots returns the newest snapshot of each offer that has one.
func (s *Store) LatestSnapshots(ctx context.Context, offerIDs []string) (map[string]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	latest := make(map[string]Snapshot, len(offerIDs))
	if len(offerIDs) == 0 {
		return latest, nil
	}

	rows, queryErr := pool.Query(ctx, latestSnapshotsSQL, offerIDs)
	if queryErr != nil {
		return nil, fmt.Errorf("latest snapshots: %w", queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		latest[snap.OfferID] = snap
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return latest, nil
}

// InsertSnapshots bulk-copies snapshots and reports how many were written.
func (s *Store) InsertSnapshots(ctx context.Context, snapshots []Snapshot) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	columns := []string{"offer_id", "activity_raw", "activity_minutes", "activity_at", "filled_cap", "payout", "status", "created_at"}
	n, copyErr := pool.CopyFrom(ctx, pgx.Identifier{"offer_snapshots"}, columns,
		pgx.CopyFromSlice(len(snapshots), func(i int) ([]any, error) {
			snap := snapshots[i]
			created := snap.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			return []any{
				snap.OfferID,
				snap.ActivityRaw,
				snap.ActivityMinutes,
				snap.ActivityAt,
				snap.FilledCap,
				numeric(snap.Payout),
				snap.Status,
				created,
			}, nil
		}),
	)
	if copyErr != nil {
		return 0, fmt.Errorf("insert snapshots: %w", copyErr)
	}
	return n, nil
}

// ListSnapshots lists an offer's snapshots in [from, to), oldest first.
func (s *Store) ListSnapshots(ctx context.Context, offerID string, from, to time.Time, limit int) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsSQL, offerID, from, to, limitOrAll(limit))
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]Snapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// AlertedSince returns the subset of offerIDs with an alert at or after since.
func (s *Store) AlertedSince(ctx context.Context, offerIDs []string, since time.Time) (map[string]bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	alerted := make(map[string]bool)
	if len(offerIDs) == 0 {
		return alerted, nil
	}

	rows, queryErr := pool.Query(ctx, alertedSinceSQL, offerIDs, since)
	if queryErr != nil {
		return nil, fmt.Errorf("alerted since: %w", queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		alerted[id] = true
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerted, nil
}

// InsertAlert persists a delivered alert.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	created := alert.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.OfferID,
		alert.Kind,
		alert.PreviousRaw,
		alert.CurrentRaw,
		alert.PreviousMinutes,
		alert.CurrentMinutes,
		alert.PreviousStatus,
		alert.CurrentStatus,
		created,
	)
	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limitOrAll(limit))
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.OfferID,
			&rec.Kind,
			&rec.PreviousRaw,
			&rec.CurrentRaw,
			&rec.PreviousMinutes,
			&rec.CurrentMinutes,
			&rec.PreviousStatus,
			&rec.CurrentStatus,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// ListPriorityMembers returns the tracked active-sweep ids.
func (s *Store) ListPriorityMembers(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPriorityMembersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list priority members: %w", queryErr)
	}
	ids, collectErr := pgx.CollectRows(rows, pgx.RowTo[string])
	if collectErr != nil {
		return nil, fmt.Errorf("list priority members: %w", collectErr)
	}
	return ids, nil
}

// ReplacePriorityMembers swaps the whole set atomically.
func (s *Store) ReplacePriorityMembers(ctx context.Context, offerIDs []string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	txErr := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, clearPriorityMembersSQL); err != nil {
			return err
		}
		if len(offerIDs) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx, addPriorityMembersSQL, offerIDs)
		return err
	})
	if txErr != nil {
		return fmt.Errorf("replace priority members: %w", txErr)
	}
	return nil
}

// AddPriorityMembers inserts ids not yet tracked.
func (s *Store) AddPriorityMembers(ctx context.Context, offerIDs []string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(offerIDs) == 0 {
		return nil
	}
	if _, execErr := pool.Exec(ctx, addPriorityMembersSQL, offerIDs); execErr != nil {
		return fmt.Errorf("add priority members: %w", execErr)
	}
	return nil
}

// RemovePriorityMembers drops ids from the tracked set.
func (s *Store) RemovePriorityMembers(ctx context.Context, offerIDs []string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(offerIDs) == 0 {
		return nil
	}
	if _, execErr := pool.Exec(ctx, removePriorityMembersSQL, offerIDs); execErr != nil {
		return fmt.Errorf("remove priority members: %w", execErr)
	}
	return nil
}

func scanSnapshot(rows pgx.Rows) (Snapshot, error) {
	var (
		snap   Snapshot
		payout string
	)
	if err := rows.Scan(
		&snap.ID,
		&snap.OfferID,
		&snap.ActivityRaw,
		&snap.ActivityMinutes,
		&snap.ActivityAt,
		&snap.FilledCap,
		&payout,
		&snap.Status,
		&snap.CreatedAt,
	); err != nil {
		return Snapshot{}, err
	}
	p, err := decimal.NewFromString(payout)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse payout: %w", err)
	}
	snap.Payout = p
	return snap, nil
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// limitOrAll maps a non-positive limit to NULL, which LIMIT treats as no limit.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

var _ SyncStore = (*Store)(nil)
