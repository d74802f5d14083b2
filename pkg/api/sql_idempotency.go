package api

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/veridecide/pkg/store"
)

// SQLIdempotencyStore provides durable idempotency enforcement in the
// idempotency_keys table created by store.Migrate, so replays survive
// process restarts.
type SQLIdempotencyStore struct {
	db      *sql.DB
	dialect store.Dialect
	ttl     time.Duration
	now     func() time.Time
}

var _ IdempotencyStorer = (*SQLIdempotencyStore)(nil)

// NewSQLIdempotencyStore creates a SQL-backed idempotency store.
func NewSQLIdempotencyStore(db *sql.DB, dialect store.Dialect, ttl time.Duration) *SQLIdempotencyStore {
	return &SQLIdempotencyStore{db: db, dialect: dialect, ttl: ttl, now: time.Now}
}

// Check returns a cached response if the idempotency key was seen before and is within TTL.
func (s *SQLIdempotencyStore) Check(ctx context.Context, key string) (*CachedResponse, bool) {
	var (
		resp     CachedResponse
		body     string
		cachedAt int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT status_code, content_type, body, cached_at FROM idempotency_keys WHERE idem_key = ?`), key,
	).Scan(&resp.StatusCode, &resp.ContentType, &body, &cachedAt)
	if err != nil {
		return nil, false
	}
	resp.Body = []byte(body)
	resp.CachedAt = time.Unix(cachedAt, 0)
	if s.now().Sub(resp.CachedAt) > s.ttl {
		_, _ = s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM idempotency_keys WHERE idem_key = ?`), key)
		return nil, false
	}
	return &resp, true
}

// Set stores an idempotency key and its response.
func (s *SQLIdempotencyStore) Set(ctx context.Context, key string, resp CachedResponse) {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO idempotency_keys (idem_key, status_code, content_type, body, cached_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (idem_key) DO UPDATE SET status_code = excluded.status_code,
		   content_type = excluded.content_type, body = excluded.body, cached_at = excluded.cached_at`),
		key, resp.StatusCode, resp.ContentType, string(resp.Body), s.now().Unix(),
	)
	if err != nil {
		// Replay is an optimization; the original response already went out.
		slog.WarnContext(ctx, "idempotency: failed to set key", "key", key, "error", err)
	}
}

// Cleanup removes expired idempotency keys older than the TTL.
func (s *SQLIdempotencyStore) Cleanup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM idempotency_keys WHERE cached_at < ?`),
		s.now().Add(-s.ttl).Unix())
	return err
}
