package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Mindburn-Labs/veridecide/pkg/auth"
)

const testIssuer = "veridecide-test"

func setupValidator(t *testing.T, secret string) *auth.JWTValidator {
	t.Helper()
	v, err := auth.NewJWTValidator(secret, testIssuer)
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return v
}

func issue(t *testing.T, v *auth.JWTValidator, sub, tenantID string, roles []string, ttl time.Duration) string {
	t.Helper()
	token, err := v.Issue(sub, tenantID, roles, ttl)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func serve(h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func mustNotCall(t *testing.T, why string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called: " + why)
	})
}

func TestNewJWTValidator_RequiresSecret(t *testing.T) {
	if _, err := auth.NewJWTValidator("", testIssuer); err != auth.ErrNoSecret {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestMiddleware_ValidJWT(t *testing.T) {
	validator := setupValidator(t, "secret-a")
	middleware := auth.NewMiddleware(validator)

	var captured auth.Principal
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		if err != nil {
			t.Errorf("expected principal in context: %v", err)
		}
		captured = p
		w.WriteHeader(http.StatusOK)
	}))

	token := issue(t, validator, "analyst-7", "ministry-a", []string{auth.RoleReviewer}, time.Hour)
	w := serve(handler, "/api/v1/outputs", map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if captured == nil {
		t.Fatal("principal was not set in context")
	}
	if captured.GetID() != "analyst-7" {
		t.Errorf("expected subject 'analyst-7', got %q", captured.GetID())
	}
	if captured.GetTenantID() != "ministry-a" {
		t.Errorf("expected tenant 'ministry-a', got %q", captured.GetTenantID())
	}
	if !captured.HasRole(auth.RoleReviewer) || captured.HasRole("auditor") {
		t.Errorf("unexpected roles %v", captured.GetRoles())
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	validator := setupValidator(t, "secret-a")
	other := setupValidator(t, "secret-b")
	foreignIssuer, err := auth.NewJWTValidator("secret-a", "someone-else")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"expired", "Bearer " + issue(t, validator, "a", "ministry-a", nil, -time.Hour)},
		{"bad signature", "Bearer " + issue(t, other, "a", "ministry-a", nil, time.Hour)},
		{"wrong issuer", "Bearer " + issue(t, foreignIssuer, "a", "ministry-a", nil, time.Hour)},
		{"missing tenant", "Bearer " + issue(t, validator, "a", "", nil, time.Hour)},
		{"missing subject", "Bearer " + issue(t, validator, "", "ministry-a", nil, time.Hour)},
		{"garbage", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := auth.NewMiddleware(validator)(mustNotCall(t, tc.name))
			header := map[string]string{}
			if tc.header != "" {
				header["Authorization"] = tc.header
			}
			w := serve(handler, "/api/v1/outputs", header)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("expected problem+json, got %q", ct)
			}
		})
	}
}

func TestMiddleware_PublicPathsBypass(t *testing.T) {
	called := false
	handler := auth.NewMiddleware(setupValidator(t, "secret-a"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	w := serve(handler, "/health", nil)
	if !called {
		t.Error("handler should be called for public paths without auth")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMiddleware_NilValidator_FailClosed(t *testing.T) {
	handler := auth.NewMiddleware(nil)(mustNotCall(t, "validator is nil"))
	w := serve(handler, "/api/v1/outputs", map[string]string{"Authorization": "Bearer some-token"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestHeaderMiddleware(t *testing.T) {
	var captured auth.Principal
	handler := auth.HeaderMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = auth.GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := serve(handler, "/api/v1/pipeline", map[string]string{
		auth.HeaderTenantID: "ministry-a",
		auth.HeaderActorID:  "analyst-7",
		auth.HeaderRoles:    "reviewer, ,auditor",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if captured.GetTenantID() != "ministry-a" || captured.GetID() != "analyst-7" {
		t.Errorf("unexpected principal %+v", captured)
	}
	if got := captured.GetRoles(); len(got) != 2 || got[0] != "reviewer" || got[1] != "auditor" {
		t.Errorf("unexpected roles %v", got)
	}

	w = serve(auth.HeaderMiddleware(mustNotCall(t, "no tenant header")), "/api/v1/pipeline", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := auth.HeaderMiddleware(auth.RequireRole(auth.RoleReviewer)(ok))

	cases := []struct {
		roles string
		want  int
	}{
		{"reviewer", http.StatusOK},
		{"admin", http.StatusOK},
		{"analyst", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tc := range cases {
		w := serve(handler, "/api/v1/reviews", map[string]string{auth.HeaderTenantID: "t", auth.HeaderRoles: tc.roles})
		if w.Code != tc.want {
			t.Errorf("roles %q: expected %d, got %d", tc.roles, tc.want, w.Code)
		}
	}

	w := serve(auth.RequireRole(auth.RoleReviewer)(mustNotCall(t, "unauthenticated")), "/api/v1/reviews", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without principal, got %d", w.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetRequestID(r.Context())
	}))

	w := serve(handler, "/health", map[string]string{"X-Request-ID": "req-42"})
	if seen != "req-42" || w.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("client request id not reused: ctx=%q header=%q", seen, w.Header().Get("X-Request-ID"))
	}

	w = serve(handler, "/health", nil)
	if seen == "" || w.Header().Get("X-Request-ID") != seen {
		t.Errorf("generated request id mismatch: ctx=%q header=%q", seen, w.Header().Get("X-Request-ID"))
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := auth.CORSMiddleware([]string{"https://review.example.org"})(mustNotCall(t, "preflight"))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/reviews", nil)
	req.Header.Set("Origin", "https://review.example.org")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://review.example.org" {
		t.Errorf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/reviews", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("origin should not be allowed, got %q", got)
	}
}
