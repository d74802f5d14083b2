package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// CachedResponse is a previously seen response kept for idempotent replay.
type CachedResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
	CachedAt    time.Time
}

// IdempotencyStorer defines the interface for idempotency backends.
type IdempotencyStorer interface {
	Check(ctx context.Context, key string) (*CachedResponse, bool)
	Set(ctx context.Context, key string, resp CachedResponse)
}

// MemoryIdempotencyStore holds cached responses keyed by idempotency key (in-memory).
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
	ttl     time.Duration
	now     func() time.Time
}

// NewIdempotencyStore creates a new in-memory idempotency store. Expired
// entries are dropped lazily on Set.
func NewIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*CachedResponse),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Check returns a cached response if existing and valid.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string) (*CachedResponse, bool) {
	s.mu.RLock()
	cached, exists := s.entries[key]
	s.mu.RUnlock()

	if exists && s.now().Sub(cached.CachedAt) < s.ttl {
		return cached, true
	}
	return nil, false
}

// Set stores a response.
func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, resp CachedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.entries {
		if now.Sub(v.CachedAt) > s.ttl {
			delete(s.entries, k)
		}
	}
	resp.CachedAt = now
	s.entries[key] = &resp
}

// responseCapture wraps http.ResponseWriter to capture the response.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyMiddleware ensures that POST requests with an Idempotency-Key
// header are processed once per scope. scope names the caller (the tenant)
// so that two tenants choosing the same key never see each other's
// responses; an empty scope disables replay for that request. Replayed
// responses carry Idempotent-Replayed: true.
func IdempotencyMiddleware(store IdempotencyStorer, scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			prefix := scope(r)
			if prefix == "" {
				next.ServeHTTP(w, r)
				return
			}
			key = prefix + ":" + r.URL.Path + ":" + key

			if cached, ok := store.Check(r.Context(), key); ok {
				w.Header().Set("Content-Type", cached.ContentType)
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			// Cache successful responses (2xx)
			if capture.statusCode >= 200 && capture.statusCode < 300 {
				store.Set(r.Context(), key, CachedResponse{
					StatusCode:  capture.statusCode,
					ContentType: w.Header().Get("Content-Type"),
					Body:        capture.body.Bytes(),
				})
				slog.DebugContext(r.Context(), "idempotent response cached", "path", r.URL.Path)
			}
		})
	}
}
