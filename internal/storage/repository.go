package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
    id          BIGSERIAL PRIMARY KEY,
    fetched_at  TIMESTAMPTZ NOT NULL UNIQUE,
    active_only BOOLEAN NOT NULL,
    fetch_limit INTEGER NOT NULL,
    event_count INTEGER NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS snapshot_events (
    snapshot_id        BIGINT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    event_id           TEXT NOT NULL,
    rank               INTEGER NOT NULL,
    title              TEXT NOT NULL,
    volume             NUMERIC NOT NULL,
    volume_24h         NUMERIC NOT NULL,
    contender_count    INTEGER NOT NULL,
    leader             TEXT NOT NULL DEFAULT '',
    leader_price_cents NUMERIC NOT NULL DEFAULT 0,
    PRIMARY KEY (snapshot_id, event_id)
);

CREATE INDEX IF NOT EXISTS snapshot_events_event_idx ON snapshot_events (event_id, snapshot_id DESC);

CREATE TABLE IF NOT EXISTS mover_alerts (
    id          BIGSERIAL PRIMARY KEY,
    event_id    TEXT NOT NULL,
    event_title TEXT NOT NULL,
    contender   TEXT NOT NULL,
    price_cents NUMERIC NOT NULL,
    delta_cents NUMERIC NOT NULL,
    direction   TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`

	insertSnapshotSQL = `INSERT INTO snapshots (
        fetched_at,
        active_only,
        fetch_limit,
        event_count
    ) VALUES ($1,$2,$3,$4)
    ON CONFLICT (fetched_at) DO NOTHING
    RETURNING id;`

	insertEventSampleSQL = `INSERT INTO snapshot_events (
        snapshot_id,
        event_id,
        rank,
        title,
        volume,
        volume_24h,
        contender_count,
        leader,
        leader_price_cents
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	listRecentSnapshotsSQL = `SELECT
        id,
        fetched_at,
        active_only,
        fetch_limit,
        event_count,
        created_at
    FROM snapshots
    ORDER BY fetched_at DESC
    LIMIT $1;`

	eventHistorySQL = `SELECT
        e.snapshot_id,
        s.fetched_at,
        e.event_id,
        e.rank,
        e.title,
        e.volume::text,
        e.volume_24h::text,
        e.contender_count,
        e.leader,
        e.leader_price_cents::text
    FROM snapshot_events e
    JOIN snapshots s ON s.id = e.snapshot_id
    WHERE e.event_id = $1
    ORDER BY s.fetched_at DESC
    LIMIT $2;`

	deleteSnapshotsBeforeSQL = `DELETE FROM snapshots WHERE fetched_at < $1;`

	insertAlertSQL = `INSERT INTO mover_alerts (
        event_id,
        event_title,
        contender,
        price_cents,
        delta_cents,
        direction
    ) VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        event_id,
        event_title,
        contender,
        price_cents::text,
        delta_cents::text,
        direction,
        created_at
    FROM mover_alerts
    ORDER BY created_at DESC
    LIMIT $1;`
)

// SnapshotArchive persists refreshed snapshots.
type SnapshotArchive interface {
	InsertSnapshot(ctx context.Context, rec SnapshotRecord, samples []EventSample) (int64, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error)
	EventHistory(ctx context.Context, eventID string, limit int) ([]EventSample, error)
	DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// Store aggregates access to archived snapshots and alerts.
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

// EnsureSchema creates the archive tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertSnapshot writes a snapshot and its events in one transaction. A
// snapshot already archived under the same fetched_at is skipped and 0 is returned.
func (s *Store) InsertSnapshot(ctx context.Context, rec SnapshotRecord, samples []EventSample) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, insertSnapshotSQL, rec.FetchedAt, rec.ActiveOnly, rec.FetchLimit, rec.EventCount).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(insertEventSampleSQL,
			id,
			sample.EventID,
			sample.Rank,
			sample.Title,
			sample.Volume.String(),
			sample.Volume24h.String(),
			sample.ContenderCount,
			sample.Leader,
			sample.LeaderPriceCents.String(),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("insert snapshot events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return id, nil
}

// ListRecentSnapshots lists archived snapshots, newest first.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	records := make([]SnapshotRecord, 0, limit)
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(&rec.ID, &rec.FetchedAt, &rec.ActiveOnly, &rec.FetchLimit, &rec.EventCount, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// EventHistory lists an event's archived rows, newest first.
func (s *Store) EventHistory(ctx context.Context, eventID string, limit int) ([]EventSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, eventHistorySQL, eventID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("event history: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]EventSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanEventSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// DeleteSnapshotsBefore prunes the archive. Event rows cascade.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSnapshotsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete snapshots before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.EventID,
		alert.EventTitle,
		alert.Contender,
		alert.PriceCents.String(),
		alert.DeltaCents.String(),
		alert.Direction,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec                AlertRecord
			priceStr, deltaStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.EventID,
			&rec.EventTitle,
			&rec.Contender,
			&priceStr,
			&deltaStr,
			&rec.Direction,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if rec.PriceCents, convErr = decimal.NewFromString(priceStr); convErr != nil {
			return nil, fmt.Errorf("parse price cents: %w", convErr)
		}
		if rec.DeltaCents, convErr = decimal.NewFromString(deltaStr); convErr != nil {
			return nil, fmt.Errorf("parse delta cents: %w", convErr)
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanEventSample(rows pgx.Rows) (EventSample, error) {
	var (
		sample                           EventSample
		volumeStr, volume24hStr, leadStr string
	)
	if err := rows.Scan(
		&sample.SnapshotID,
		&sample.FetchedAt,
		&sample.EventID,
		&sample.Rank,
		&sample.Title,
		&volumeStr,
		&volume24hStr,
		&sample.ContenderCount,
		&sample.Leader,
		&leadStr,
	); err != nil {
		return EventSample{}, err
	}

	var err error
	if sample.Volume, err = decimal.NewFromString(volumeStr); err != nil {
		return EventSample{}, fmt.Errorf("parse volume: %w", err)
	}
	if sample.Volume24h, err = decimal.NewFromString(volume24hStr); err != nil {
		return EventSample{}, fmt.Errorf("parse volume 24h: %w", err)
	}
	if sample.LeaderPriceCents, err = decimal.NewFromString(leadStr); err != nil {
		return EventSample{}, fmt.Errorf("parse leader price: %w", err)
	}
	return sample, nil
}

var (
	_ SnapshotArchive = (*Store)(nil)
	_ AlertStore      = (*Store)(nil)
)
