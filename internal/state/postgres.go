package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists bookmarks in a Postgres table for deployments where
// syncs must survive process restarts.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the bookmark table
// exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect state store: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stream_bookmarks (
    stream     TEXT PRIMARY KEY,
    watermark  TIMESTAMPTZ NOT NULL,
    synced_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	if err != nil {
		return fmt.Errorf("ensure bookmark table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, stream string) (*Bookmark, error) {
	row := s.db.QueryRow(ctx,
		`SELECT stream, watermark, synced_at FROM stream_bookmarks WHERE stream = $1`,
		stream)

	var b Bookmark
	if err := row.Scan(&b.Stream, &b.Watermark, &b.SyncedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bookmark %s: %w", stream, err)
	}
	b.Watermark = b.Watermark.UTC()
	return &b, nil
}

func (s *PostgresStore) Set(ctx context.Context, bookmark *Bookmark) error {
	syncedAt := bookmark.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO stream_bookmarks (stream, watermark, synced_at)
VALUES ($1, $2, $3)
ON CONFLICT (stream) DO UPDATE SET
    watermark = EXCLUDED.watermark,
    synced_at = EXCLUDED.synced_at;`,
		bookmark.Stream, bookmark.Watermark.UTC(), syncedAt)
	if err != nil {
		return fmt.Errorf("write bookmark %s: %w", bookmark.Stream, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Bookmark, error) {
	rows, err := s.db.Query(ctx,
		`SELECT stream, watermark, synced_at FROM stream_bookmarks ORDER BY stream`)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	var out []*Bookmark
	for rows.Next() {
		var b Bookmark
		if err := rows.Scan(&b.Stream, &b.Watermark, &b.SyncedAt); err != nil {
			return nil, err
		}
		b.Watermark = b.Watermark.UTC()
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
