package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRefreshStore persists refresh tokens to a Postgres table, allowing
// multiple API replicas to share authentication state.
type PostgresRefreshStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRefreshStore opens a Postgres-backed refresh store using the
// provided DSN.
func NewPostgresRefreshStore(dsn string) (*PostgresRefreshStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres refresh dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres refresh config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres refresh pool: %w", err)
	}
	return &PostgresRefreshStore{pool: pool}, nil
}

// Migrate creates the refresh token table when it does not exist.
func (s *PostgresRefreshStore) Migrate(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres refresh pool not configured")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS auth_refresh_tokens (
	token_hash TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create refresh token table: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
CREATE INDEX IF NOT EXISTS idx_auth_refresh_user ON auth_refresh_tokens (user_id)`)
	if err != nil {
		return fmt.Errorf("index refresh token table: %w", err)
	}
	return nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresRefreshStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Ping verifies the pool is reachable.
func (s *PostgresRefreshStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres refresh pool not configured")
	}
	return s.pool.Ping(ctx)
}

// Save stores or updates the refresh token record.
func (s *PostgresRefreshStore) Save(ctx context.Context, record RefreshRecord) error {
	if s.pool == nil {
		return fmt.Errorf("postgres refresh pool not configured")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO auth_refresh_tokens (token_hash, user_id, expires_at, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at
`, record.TokenHash, record.UserID, record.ExpiresAt.UTC(), record.CreatedAt.UTC())
	return err
}

// Get fetches the record for the provided token hash.
func (s *PostgresRefreshStore) Get(ctx context.Context, tokenHash string) (RefreshRecord, bool, error) {
	if s.pool == nil {
		return RefreshRecord{}, false, fmt.Errorf("postgres refresh pool not configured")
	}
	row := s.pool.QueryRow(ctx, `
SELECT user_id, expires_at, created_at
FROM auth_refresh_tokens
WHERE token_hash = $1
`, tokenHash)
	record := RefreshRecord{TokenHash: tokenHash}
	if err := row.Scan(&record.UserID, &record.ExpiresAt, &record.CreatedAt); err != nil {
		if isNoRows(err) {
			return RefreshRecord{}, false, nil
		}
		return RefreshRecord{}, false, err
	}
	return record, true, nil
}

// Delete removes the token hash.
func (s *PostgresRefreshStore) Delete(ctx context.Context, tokenHash string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres refresh pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM auth_refresh_tokens WHERE token_hash = $1`, tokenHash)
	return err
}

// DeleteForUser removes every token belonging to the user.
func (s *PostgresRefreshStore) DeleteForUser(ctx context.Context, userID string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres refresh pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM auth_refresh_tokens WHERE user_id = $1`, userID)
	return err
}

// PurgeExpired deletes expired tokens from the table.
func (s *PostgresRefreshStore) PurgeExpired(ctx context.Context, now time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("postgres refresh pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM auth_refresh_tokens WHERE expires_at <= $1`, now.UTC())
	return err
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}
