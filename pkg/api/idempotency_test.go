package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/veridecide/pkg/store"
)

func countingHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *calls)
	})
}

func tenantScope(r *http.Request) string { return r.Header.Get("X-Tenant-ID") }

func post(h http.Handler, tenant, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline", strings.NewReader(`{}`))
	req.Header.Set("X-Tenant-ID", tenant)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func exerciseIdempotency(t *testing.T, s IdempotencyStorer) {
	t.Helper()
	calls := 0
	h := IdempotencyMiddleware(s, tenantScope)(countingHandler(&calls))

	first := post(h, "ministry-a", "k1")
	require.Equal(t, http.StatusCreated, first.Code)
	replay := post(h, "ministry-a", "k1")
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)

	other := post(h, "ministry-b", "k1")
	assert.Equal(t, `{"call":2}`, other.Body.String(), "keys are scoped per tenant")

	post(h, "ministry-a", "")
	post(h, "", "k1")
	assert.Equal(t, 4, calls, "no key or no scope means no replay")
}

func TestIdempotencyMiddlewareMemory(t *testing.T) {
	exerciseIdempotency(t, NewIdempotencyStore(time.Hour))
}

func TestIdempotencyMiddlewareSkipsFailures(t *testing.T) {
	calls := 0
	h := IdempotencyMiddleware(NewIdempotencyStore(time.Hour), tenantScope)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		WriteBadRequest(w, "nope")
	}))
	post(h, "ministry-a", "k1")
	post(h, "ministry-a", "k1")
	assert.Equal(t, 2, calls, "error responses are not cached")
}

func TestMemoryIdempotencyStoreExpiry(t *testing.T) {
	s := NewIdempotencyStore(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }
	s.Set(context.Background(), "k", CachedResponse{StatusCode: 200, Body: []byte("x")})

	_, ok := s.Check(context.Background(), "k")
	require.True(t, ok)
	now = now.Add(2 * time.Minute)
	_, ok = s.Check(context.Background(), "k")
	assert.False(t, ok)
}

func TestSQLIdempotencyStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.NewSQLStore(db, store.SQLite).Migrate(context.Background()))

	s := NewSQLIdempotencyStore(db, store.SQLite, time.Hour)
	exerciseIdempotency(t, s)

	ctx := context.Background()
	s.Set(ctx, "stale", CachedResponse{StatusCode: 200, ContentType: "text/plain", Body: []byte("old")})
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok := s.Check(ctx, "stale")
	assert.False(t, ok, "expired entries miss")
	require.NoError(t, s.Cleanup(ctx))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM idempotency_keys`).Scan(&n))
	assert.Zero(t, n)
}
