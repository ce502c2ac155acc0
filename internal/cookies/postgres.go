// internal/cookies/postgres.go
package cookies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
)

// DB is the subset of pgxpool.Pool used by the store. pgxmock satisfies the
// same surface, which keeps the store testable without a live database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists cookie jars as JSONB rows keyed by session id.
type PostgresStore struct {
	db     DB
	domain string
	logger *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db DB, domain string, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, domain: domain, logger: logger}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS session_cookies (
			session_id TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("cookies: failed to ensure schema: %w", err)
	}
	return nil
}

// Save filters the jar and upserts it for the session id.
func (s *PostgresStore) Save(ctx context.Context, sessionID string, jar []schemas.Cookie) error {
	filtered := Filter(jar, s.domain, time.Now())
	payload, err := json.Marshal(filtered)
	if err != nil {
		return fmt.Errorf("cookies: failed to marshal jar: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO session_cookies (session_id, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at;
	`, sessionID, payload, time.Now())
	if err != nil {
		return fmt.Errorf("cookies: failed to upsert jar: %w", err)
	}

	s.logger.Debug("Cookie jar upserted",
		zap.String("session_id", sessionID),
		zap.Int("kept", len(filtered)))
	return nil
}

// Load reads the jar for the session id, re-applying the filter against the
// current clock.
func (s *PostgresStore) Load(ctx context.Context, sessionID string) ([]schemas.Cookie, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `
		SELECT payload FROM session_cookies WHERE session_id = $1;
	`, sessionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoCookies
		}
		return nil, fmt.Errorf("cookies: failed to query jar: %w", err)
	}

	var jar []schemas.Cookie
	if err := json.Unmarshal(payload, &jar); err != nil {
		return nil, fmt.Errorf("cookies: corrupt payload for session %s: %w", sessionID, err)
	}

	jar = Filter(jar, s.domain, time.Now())
	if len(jar) == 0 {
		return nil, ErrNoCookies
	}
	return jar, nil
}
