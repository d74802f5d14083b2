package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// liteEnv points every command at a fresh SQLite database with the mock model.
func liteEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for k, v := range map[string]string{
		"VERIDECIDE_CONFIG":     "",
		"DATABASE_URL":          "",
		"REDIS_ADDR":            "",
		"POLICY_DIR":            "",
		"LEXICON_FILE":          "",
		"DATA_DIR":              dir,
		"LOG_LEVEL":             "ERROR",
		"LLM_PROVIDER":          "mock",
		"AUTH_MODE":             "header",
		"OTEL_ENABLED":          "false",
		"OPEN_SOURCE_ENABLED":   "false",
		"ARTIFACT_STORAGE_TYPE": "fs",
	} {
		t.Setenv(k, v)
	}
	return dir
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"veridecide"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Help(t *testing.T) {
	code, out, _ := run(t, "help")
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	for _, cmd := range []string{"serve", "ask", "ingest", "review", "verify", "export", "health"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("usage does not mention %q", cmd)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, errOut := run(t, "frobnicate")
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(errOut, "Unknown command: frobnicate") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_DefaultsToServer(t *testing.T) {
	orig := startServer
	t.Cleanup(func() { startServer = orig })

	var got [][]string
	startServer = func(args []string, _, _ io.Writer) int {
		got = append(got, args)
		return 0
	}

	if code := Run([]string{"veridecide"}, io.Discard, io.Discard); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if code := Run([]string{"veridecide", "-addr", ":9999"}, io.Discard, io.Discard); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if code := Run([]string{"veridecide", "serve", "-addr", ":9998"}, io.Discard, io.Discard); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if len(got) != 3 || got[0] != nil || got[1][1] != ":9999" || got[2][1] != ":9998" {
		t.Errorf("server args = %v", got)
	}
}

func TestRun_FlagErrors(t *testing.T) {
	liteEnv(t)
	tests := []struct {
		name string
		args []string
	}{
		{"ask without prompt", []string{"ask"}},
		{"ingest without source", []string{"ingest", "-title", "x"}},
		{"ingest with both sources", []string{"ingest", "-file", "a.txt", "-content", "b"}},
		{"review without output", []string{"review", "-decision", "APPROVED"}},
		{"unknown flag", []string{"verify", "-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := run(t, tt.args...); code != 2 {
				t.Errorf("exit = %d, want 2", code)
			}
		})
	}
}

func TestCLI_Lifecycle(t *testing.T) {
	dir := liteEnv(t)

	doc := filepath.Join(dir, "retention.html")
	html := `<html><head><script>ignored()</script></head><body>
<p>Customer records must be retained for five years after the account is closed.</p></body></html>`
	if err := os.WriteFile(doc, []byte(html), 0o600); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := run(t, "ingest", "-tenant", "acme", "-file", doc, "-json")
	if code != 0 {
		t.Fatalf("ingest exit = %d: %s", code, errOut)
	}
	var ingested struct {
		DocumentID string `json:"document_id"`
		Chunks     int    `json:"chunks"`
	}
	if err := json.Unmarshal([]byte(out), &ingested); err != nil {
		t.Fatalf("ingest output: %v\n%s", err, out)
	}
	if ingested.DocumentID == "" || ingested.Chunks == 0 {
		t.Fatalf("ingest result = %+v", ingested)
	}

	code, out, errOut = run(t, "ask", "-tenant", "acme", "-json", "How long must customer records be retained?")
	if code != 0 {
		t.Fatalf("ask exit = %d: %s", code, errOut)
	}
	var asked struct {
		OutputID string `json:"output_id"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal([]byte(out), &asked); err != nil {
		t.Fatalf("ask output: %v\n%s", err, out)
	}
	if asked.OutputID == "" {
		t.Fatal("ask returned no output id")
	}

	// Only outputs that passed the gate can be reviewed.
	wantReview := 0
	if asked.Status != "PENDING_REVIEW" {
		wantReview = 1
	}
	code, _, errOut = run(t, "review", "-tenant", "acme", "-output", asked.OutputID, "-decision", "approved")
	if code != wantReview {
		t.Fatalf("review exit = %d, want %d (status %s): %s", code, wantReview, asked.Status, errOut)
	}

	code, out, _ = run(t, "verify", "-tenant", "acme")
	if code != 0 || !strings.Contains(out, "PASSED") {
		t.Fatalf("verify exit = %d: %s", code, out)
	}

	code, out, errOut = run(t, "export", "-tenant", "acme", "-json")
	if code != 0 {
		t.Fatalf("export exit = %d: %s", code, errOut)
	}
	var exported struct {
		Ref   string `json:"ref"`
		Count int    `json:"count"`
		Valid bool   `json:"valid"`
	}
	if err := json.Unmarshal([]byte(out), &exported); err != nil {
		t.Fatalf("export output: %v\n%s", err, out)
	}
	if exported.Ref == "" || !exported.Valid || exported.Count < 2 {
		t.Errorf("export result = %+v", exported)
	}

	// Tenants never see each other's chain.
	code, out, _ = run(t, "verify", "-tenant", "other", "-json")
	if code != 0 || !strings.Contains(out, `"events": 0`) {
		t.Errorf("other tenant verify exit = %d: %s", code, out)
	}
}

func TestCLI_ReviewUnknownOutput(t *testing.T) {
	liteEnv(t)
	code, _, errOut := run(t, "review", "-output", "missing", "-decision", "APPROVED")
	if code != 1 {
		t.Fatalf("exit = %d, want 1: %s", code, errOut)
	}
}

func TestCLI_InvalidConfig(t *testing.T) {
	liteEnv(t)
	t.Setenv("AUTH_MODE", "basic")
	if code, _, errOut := run(t, "verify"); code != 2 || !strings.Contains(errOut, "AUTH_MODE") {
		t.Fatalf("exit = %d: %s", code, errOut)
	}
}

func TestBuildServer(t *testing.T) {
	liteEnv(t)
	cfg, ok := loadConfig(io.Discard)
	if !ok {
		t.Fatal("config did not load")
	}
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	srv, stop, err := buildServer(a)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	t.Cleanup(stop)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/documents",
		strings.NewReader(`{"title":"Policy","content":"Records are kept for five years."}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "acme")
	req.Header.Set("X-Actor-ID", "curator")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("documents status = %d", resp.StatusCode)
	}
}

func TestBuildServer_JWTNeedsSecret(t *testing.T) {
	liteEnv(t)
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("JWT_SECRET", "")
	cfg, ok := loadConfig(io.Discard)
	if !ok {
		t.Fatal("config did not load")
	}
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if _, _, err := buildServer(a); err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("err = %v", err)
	}
}

func TestHealthCmd(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(healthy.Close)
	degraded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(degraded.Close)

	if code, out, _ := run(t, "health", "-url", healthy.URL); code != 0 || strings.TrimSpace(out) != "OK" {
		t.Errorf("healthy: exit = %d, out = %q", code, out)
	}
	if code, _, errOut := run(t, "health", "-url", degraded.URL); code != 1 || !strings.Contains(errOut, "503") {
		t.Errorf("degraded: exit = %d, err = %q", code, errOut)
	}
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "page.HTML")
	if err := os.WriteFile(page, []byte("<p>Visible</p><style>p{}</style>"), 0o600); err != nil {
		t.Fatal(err)
	}
	text, err := readDocument(page, 0)
	if err != nil || text != "Visible" {
		t.Errorf("html = %q, %v", text, err)
	}

	plain := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(plain, []byte("<kept as is>"), 0o600); err != nil {
		t.Fatal(err)
	}
	text, err = readDocument(plain, 0)
	if err != nil || text != "<kept as is>" {
		t.Errorf("text = %q, %v", text, err)
	}

	if _, err := readDocument(filepath.Join(dir, "missing.txt"), 0); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" aml, ,kyc ,")
	if len(got) != 2 || got[0] != "aml" || got[1] != "kyc" {
		t.Errorf("splitList = %v", got)
	}
	if splitList("") != nil {
		t.Error("empty input should give nil")
	}
}
