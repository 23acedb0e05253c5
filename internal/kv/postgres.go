package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps entries in the kv_entries table created by the
// db migrations. Expired rows are invisible to reads and removed by
// StartCleanup.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

func (s *PostgresStore) expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.now().Add(ttl)
	return &t
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, s.now(),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return []byte(value), nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_entries (key, value, expires_at, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		key, string(value), s.expiry(ttl),
	)
	if err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM kv_entries
		 WHERE left(key, length($1)) = $1 AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY key`,
		prefix, s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("kv list %q: %w", prefix, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("kv list %q: %w", prefix, err)
	}
	return keys, nil
}

// Incr bumps a counter in a single statement. An expired counter restarts
// at one with a fresh expiry.
func (s *PostgresStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()
	var n int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO kv_entries (key, value, expires_at, updated_at)
		 VALUES ($1, '1', $2, now())
		 ON CONFLICT (key) DO UPDATE SET
		   value = CASE
		     WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= $3 THEN '1'
		     ELSE (kv_entries.value::bigint + 1)::text
		   END,
		   expires_at = CASE
		     WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= $3 THEN EXCLUDED.expires_at
		     ELSE kv_entries.expires_at
		   END,
		   updated_at = now()
		 RETURNING value::bigint`,
		key, s.expiry(ttl), now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("kv incr %q: %w", key, err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tag, err := s.pool.Exec(ctx,
				`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.now())
			if err != nil {
				slog.Warn("Failed to clean up expired kv entries", "error", err)
				continue
			}
			if tag.RowsAffected() > 0 {
				slog.Debug("Cleaned up expired kv entries", "removed", tag.RowsAffected())
			}
		}
	}
}
