package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Mindburn-Labs/veridecide/pkg/api"
	"github.com/Mindburn-Labs/veridecide/pkg/auth"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func tenantRequest(tenantID string) *http.Request {
	req := httptest.NewRequest("GET", "/api/v1/outputs", nil)
	req.Header.Set(auth.HeaderTenantID, tenantID)
	return req
}

func TestRateLimitMiddleware_PerTenant(t *testing.T) {
	limiter := api.NewTenantRateLimiter(1, 1)
	defer limiter.Close()
	handler := auth.HeaderMiddleware(auth.RateLimitMiddleware(limiter, 5)(okHandler()))

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, tenantRequest("ministry-a"))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, tenantRequest("ministry-a"))
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w2.Code)
	}
	if w2.Header().Get("Retry-After") != "5" {
		t.Errorf("expected Retry-After 5, got %q", w2.Header().Get("Retry-After"))
	}

	w3 := httptest.NewRecorder()
	handler.ServeHTTP(w3, tenantRequest("ministry-b"))
	if w3.Code != http.StatusOK {
		t.Errorf("other tenant: expected 200, got %d", w3.Code)
	}
}

func TestRateLimitMiddleware_FailOpen(t *testing.T) {
	for name, limiter := range map[string]api.Limiter{"nil": nil, "error": failingLimiter{}} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			auth.RateLimitMiddleware(limiter, 1)(okHandler()).ServeHTTP(w, tenantRequest("ministry-a"))
			if w.Code != http.StatusOK {
				t.Errorf("expected 200, got %d", w.Code)
			}
		})
	}
}
