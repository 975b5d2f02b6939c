package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pricewatch/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrPersistence wraps every failed sample append.
	ErrPersistence = errors.New("storage: persistence failure")
)

const (
	appendSampleSQL = `INSERT INTO price_samples (
        asset_id,
        price,
        sampled_at
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (asset_id, sampled_at) DO UPDATE
    SET price = EXCLUDED.price;`

	listSamplesBetweenSQL = `SELECT
        asset_id,
        price,
        sampled_at
    FROM price_samples
    WHERE asset_id = $1
      AND sampled_at >= $2
      AND sampled_at < $3
    ORDER BY sampled_at;`

	listRecentSamplesSQL = `SELECT
        asset_id,
        price,
        sampled_at
    FROM price_samples
    WHERE asset_id = $1
    ORDER BY sampled_at DESC
    LIMIT $2;`

	listAssetsSQL = `SELECT DISTINCT asset_id FROM price_samples ORDER BY asset_id;`

	insertFiringSQL = `INSERT INTO alert_firings (
        kind,
        asset_id,
        current_price,
        reference_price,
        change_pct,
        destination,
        rule_id,
        delivered,
        error,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING id, created_at;`

	listRecentFiringsSQL = `SELECT
        id,
        kind,
        asset_id,
        current_price,
        reference_price,
        change_pct,
        destination,
        rule_id,
        delivered,
        error,
        fired_at,
        created_at
    FROM alert_firings
    ORDER BY fired_at DESC
    LIMIT $1;`

	deleteFiringsBeforeSQL = `DELETE FROM alert_firings WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore persists accepted samples.
type SampleStore interface {
	Append(ctx context.Context, sample model.Sample) error
}

// SampleReader reads persisted samples back.
type SampleReader interface {
	ListSamplesBetween(ctx context.Context, assetID string, from, to time.Time) ([]model.Sample, error)
	ListRecentSamples(ctx context.Context, assetID string, limit int) ([]model.Sample, error)
	ListAssets(ctx context.Context) ([]string, error)
}

// FiringStore defines operations for alert auditing.
type FiringStore interface {
	InsertFiring(ctx context.Context, rec FiringRecord) (FiringRecord, error)
	ListRecentFirings(ctx context.Context, limit int) ([]FiringRecord, error)
	DeleteFiringsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to samples and alert firings in PostgreSQL.
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

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Append persists a sample, replacing any row with the same asset and timestamp.
func (s *Store) Append(ctx context.Context, sample model.Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	price := decimal.NewFromFloat(sample.Price).String()
	if _, execErr := pool.Exec(ctx, appendSampleSQL, sample.AssetID, price, sample.Timestamp); execErr != nil {
		return fmt.Errorf("%w: append %s sample: %v", ErrPersistence, sample.AssetID, execErr)
	}
	return nil
}

// ListSamplesBetween lists samples of one asset within a time window, oldest first.
func (s *Store) ListSamplesBetween(ctx context.Context, assetID string, from, to time.Time) ([]model.Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, assetID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples of one asset, newest first.
func (s *Store) ListRecentSamples(ctx context.Context, assetID string, limit int) ([]model.Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, assetID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// ListAssets lists every asset with stored samples.
func (s *Store) ListAssets(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list assets: %w", queryErr)
	}
	defer rows.Close()

	assets, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

// InsertFiring persists an alert firing.
func (s *Store) InsertFiring(ctx context.Context, rec FiringRecord) (FiringRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return FiringRecord{}, err
	}

	row := pool.QueryRow(ctx, insertFiringSQL,
		string(rec.Kind),
		rec.AssetID,
		rec.CurrentPrice.String(),
		rec.Reference.String(),
		rec.ChangePct.String(),
		rec.Destination,
		rec.RuleID,
		rec.Delivered,
		rec.Error,
		rec.FiredAt,
	)

	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return FiringRecord{}, fmt.Errorf("insert firing: %w", scanErr)
	}
	return rec, nil
}

// ListRecentFirings lists most recent firings.
func (s *Store) ListRecentFirings(ctx context.Context, limit int) ([]FiringRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentFiringsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent firings: %w", queryErr)
	}
	defer rows.Close()

	firings := make([]FiringRecord, 0, limit)
	for rows.Next() {
		var rec FiringRecord
		var kind, currentStr, referenceStr, changeStr string
		if err := rows.Scan(
			&rec.ID,
			&kind,
			&rec.AssetID,
			&currentStr,
			&referenceStr,
			&changeStr,
			&rec.Destination,
			&rec.RuleID,
			&rec.Delivered,
			&rec.Error,
			&rec.FiredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Kind = model.EventKind(kind)

		var convErr error
		if rec.CurrentPrice, convErr = decimal.NewFromString(currentStr); convErr != nil {
			return nil, fmt.Errorf("parse current price: %w", convErr)
		}
		if rec.Reference, convErr = decimal.NewFromString(referenceStr); convErr != nil {
			return nil, fmt.Errorf("parse reference price: %w", convErr)
		}
		if rec.ChangePct, convErr = decimal.NewFromString(changeStr); convErr != nil {
			return nil, fmt.Errorf("parse change pct: %w", convErr)
		}

		firings = append(firings, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return firings, nil
}

// DeleteFiringsBefore deletes historical firings.
func (s *Store) DeleteFiringsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteFiringsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete firings before: %w", execErr)
	}
	return nil
}

func collectSamples(rows pgx.Rows, capacity int) ([]model.Sample, error) {
	samples := make([]model.Sample, 0, capacity)
	for rows.Next() {
		var (
			assetID  string
			priceStr string
			at       time.Time
		)
		if err := rows.Scan(&assetID, &priceStr, &at); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		samples = append(samples, model.Sample{AssetID: assetID, Price: price.InexactFloat64(), Timestamp: at.UTC()})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

var (
	_ SampleStore    = (*Store)(nil)
	_ SampleReader   = (*Store)(nil)
	_ FiringStore    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
