package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veridecide/pkg/config"
)

var managedKeys = []string{
	config.FileEnv, "PORT", "LOG_LEVEL", "DATABASE_URL", "DATA_DIR", "REQUEST_TIMEOUT",
	"RAG_MATCH_COUNT", "REDIS_ADDR", "POLICY_DIR", "LEXICON_FILE",
	"LLM_PROVIDER", "LLM_SERVICE_URL", "LLM_API_KEY", "LLM_MODEL_NAME", "LLM_MODEL_VERSION",
	"LLM_TEMPERATURE", "LLM_MAX_TOKENS",
	"OPEN_SOURCE_ENABLED", "OPEN_SOURCE_ALLOWLIST", "OPEN_SOURCE_MAX_RESULTS", "OPEN_SOURCE_MAX_CHARS",
	"SERP_PROVIDER", "SERP_API_KEY", "SERP_API_URL",
	"AUTH_MODE", "JWT_SECRET", "JWT_ISSUER", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"ARTIFACT_STORAGE_TYPE", "ARTIFACT_PREFIX", "ARTIFACT_S3_BUCKET", "ARTIFACT_S3_REGION",
	"ARTIFACT_S3_ENDPOINT", "ARTIFACT_GCS_BUCKET",
}

// cleanEnv unsets every variable Load reads; t.Setenv restores them afterwards.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range managedKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.True(t, cfg.LiteMode())
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.RAGMatchCount)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.False(t, cfg.OpenSource.Enabled)
	assert.Nil(t, cfg.OpenSource.Allowlist)
	assert.Equal(t, config.AuthJWT, cfg.Auth.Mode)
	assert.Equal(t, "fs", cfg.Artifacts.Type)
}

func TestLoad_Overrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/veridecide?sslmode=disable")
	t.Setenv("RAG_MATCH_COUNT", "8")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_TEMPERATURE", "0.7")
	t.Setenv("OPEN_SOURCE_ENABLED", "true")
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.False(t, cfg.LiteMode())
	assert.Equal(t, 8, cfg.RAGMatchCount)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.True(t, cfg.OpenSource.Enabled)
	assert.Equal(t, config.AuthHeader, cfg.Auth.Mode)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Auth.CORSOrigins)
	assert.InDelta(t, 2.5, cfg.RateLimit.RPS, 1e-9)
}

func TestLoad_RequestTimeoutFormats(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want time.Duration
	}{
		{"90", 90 * time.Second},
		{"1m30s", 90 * time.Second},
		{"250ms", 250 * time.Millisecond},
	} {
		t.Run(tc.raw, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv("REQUEST_TIMEOUT", tc.raw)
			cfg, err := config.Load()
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.RequestTimeout)
		})
	}
}

func TestLoad_AllowlistSetButBlank(t *testing.T) {
	cleanEnv(t)
	t.Setenv("OPEN_SOURCE_ALLOWLIST", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.OpenSource.Allowlist)
	assert.Equal(t, "", *cfg.OpenSource.Allowlist)
}

func TestLoad_InvalidValues(t *testing.T) {
	for name, env := range map[string][2]string{
		"unparseable int":   {"RAG_MATCH_COUNT", "many"},
		"unparseable bool":  {"OPEN_SOURCE_ENABLED", "perhaps"},
		"bad timeout":       {"REQUEST_TIMEOUT", "soon"},
		"zero match count":  {"RAG_MATCH_COUNT", "0"},
		"unknown auth mode": {"AUTH_MODE", "basic"},
		"unknown log level": {"LOG_LEVEL", "TRACE"},
		"hot temperature":   {"LLM_TEMPERATURE", "3"},
		"s3 without bucket": {"ARTIFACT_STORAGE_TYPE", "s3"},
		"unknown artifacts": {"ARTIFACT_STORAGE_TYPE", "ftp"},
	} {
		t.Run(name, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv(env[0], env[1])
			_, err := config.Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrInvalid), "got %v", err)
		})
	}
}

func TestLoad_FileOverlay(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "veridecide.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
request_timeout: 45s
policy_dir: /etc/veridecide/policies
llm:
  provider: openai
  model_name: gpt-4o-mini
open_source:
  enabled: true
  allowlist: "eur-lex.europa.eu"
artifacts:
  type: s3
  s3_bucket: evidence
`), 0o600))
	t.Setenv(config.FileEnv, path)
	t.Setenv("PORT", "7100")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "7100", cfg.Port, "environment wins over the file")
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "/etc/veridecide/policies", cfg.PolicyDir)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.ModelName)
	assert.Equal(t, 512, cfg.LLM.MaxTokens, "unset file keys keep defaults")
	require.NotNil(t, cfg.OpenSource.Allowlist)
	assert.Equal(t, "eur-lex.europa.eu", *cfg.OpenSource.Allowlist)
	assert.Equal(t, "evidence", cfg.Artifacts.S3Bucket)
}

func TestLoad_FileErrors(t *testing.T) {
	cleanEnv(t)
	dir := t.TempDir()

	t.Setenv(config.FileEnv, filepath.Join(dir, "missing.yaml"))
	_, err := config.Load()
	assert.ErrorContains(t, err, "config: read")

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("shadow_mode: true\n"), 0o600))
	t.Setenv(config.FileEnv, unknown)
	_, err = config.Load()
	assert.ErrorContains(t, err, "config: parse")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	t.Setenv(config.FileEnv, empty)
	_, err = config.Load()
	assert.NoError(t, err)
}
