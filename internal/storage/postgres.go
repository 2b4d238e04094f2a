package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/iap-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS iap_snapshots (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT NOT NULL,
	product_id  TEXT NOT NULL,
	locale      TEXT NOT NULL,
	url         TEXT NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS iap_snapshots_product_locale_idx
	ON iap_snapshots (product_id, locale, captured_at DESC);
CREATE TABLE IF NOT EXISTS iap_items (
	snapshot_id BIGINT NOT NULL REFERENCES iap_snapshots (id) ON DELETE CASCADE,
	position    INT NOT NULL,
	name        TEXT NOT NULL,
	price       TEXT NOT NULL,
	PRIMARY KEY (snapshot_id, position)
);`

// PostgresStore keeps the history of extracted listings.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// EnsureSchema creates the snapshot tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// SaveSnapshots writes all snapshots of a run in a single transaction.
func (s *PostgresStore) SaveSnapshots(ctx context.Context, snaps []domain.Snapshot) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, snap := range snaps {
		var snapshotID int64
		err = tx.QueryRow(ctx,
			`INSERT INTO iap_snapshots (run_id, product_id, locale, url, captured_at)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			snap.RunID, snap.ProductID, snap.Locale, snap.URL, snap.CapturedAt,
		).Scan(&snapshotID)
		if err != nil {
			return fmt.Errorf("insert snapshot %s: %w", snap.Locale, err)
		}

		if len(snap.Items) == 0 {
			continue
		}
		batch := &pgx.Batch{}
		for i, item := range snap.Items {
			batch.Queue(`INSERT INTO iap_items (snapshot_id, position, name, price) VALUES ($1, $2, $3, $4)`,
				snapshotID, i, item.Name, item.Price)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert items %s: %w", snap.Locale, err)
		}
	}

	return tx.Commit(ctx)
}

// LatestSnapshot returns the most recent snapshot of a product locale, or
// domain.ErrNotFound.
func (s *PostgresStore) LatestSnapshot(ctx context.Context, productID, locale string) (*domain.Snapshot, error) {
	var (
		snap       domain.Snapshot
		snapshotID int64
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, run_id, product_id, locale, url, captured_at
		 FROM iap_snapshots
		 WHERE product_id = $1 AND locale = $2
		 ORDER BY captured_at DESC, id DESC
		 LIMIT 1`,
		productID, locale,
	).Scan(&snapshotID, &snap.RunID, &snap.ProductID, &snap.Locale, &snap.URL, &snap.CapturedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT name, price FROM iap_items WHERE snapshot_id = $1 ORDER BY position`, snapshotID)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ListingItem, error) {
		var item domain.ListingItem
		err := row.Scan(&item.Name, &item.Price)
		return item, err
	})
	if err != nil {
		return nil, err
	}
	snap.Items = items
	if snap.Items == nil {
		snap.Items = []domain.ListingItem{}
	}
	return &snap, nil
}
