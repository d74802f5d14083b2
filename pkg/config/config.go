// Package config loads veridecide settings from the environment, optionally
// layered over a YAML file named by VERIDECIDE_CONFIG. Environment
// variables always win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the YAML overlay.
const FileEnv = "VERIDECIDE_CONFIG"

// Auth modes.
const (
	AuthJWT    = "jwt"
	AuthHeader = "header"
)

// ErrInvalid wraps every validation failure of a loaded Config.
var ErrInvalid = errors.New("config: invalid")

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider     string  `yaml:"provider"`
	ServiceURL   string  `yaml:"service_url"`
	APIKey       string  `yaml:"api_key"`
	ModelName    string  `yaml:"model_name"`
	ModelVersion string  `yaml:"model_version"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}

// OpenSourceConfig bounds web evidence ingestion. A nil Allowlist means the
// built-in list; a set but blank one allows every domain.
type OpenSourceConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Allowlist    *string `yaml:"allowlist"`
	MaxResults   int     `yaml:"max_results"`
	MaxChars     int     `yaml:"max_chars"`
	SerpProvider string  `yaml:"serp_provider"`
	SerpAPIKey   string  `yaml:"serp_api_key"`
	SerpAPIURL   string  `yaml:"serp_api_url"`
}

// AuthConfig selects how callers are identified.
type AuthConfig struct {
	Mode        string   `yaml:"mode"`
	JWTSecret   string   `yaml:"jwt_secret"`
	JWTIssuer   string   `yaml:"jwt_issuer"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// RateLimitConfig is the per-tenant token bucket.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// TelemetryConfig toggles OpenTelemetry export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// ArtifactConfig selects the blob store for document bodies and bundles.
type ArtifactConfig struct {
	Type       string `yaml:"type"`
	Prefix     string `yaml:"prefix"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
	GCSBucket  string `yaml:"gcs_bucket"`
}

// Config holds server configuration.
type Config struct {
	Port           string           `yaml:"port"`
	LogLevel       string           `yaml:"log_level"`
	DatabaseURL    string           `yaml:"database_url"`
	DataDir        string           `yaml:"data_dir"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	RAGMatchCount  int              `yaml:"rag_match_count"`
	RedisAddr      string           `yaml:"redis_addr"`
	PolicyDir      string           `yaml:"policy_dir"`
	LexiconFile    string           `yaml:"lexicon_file"`
	LLM            LLMConfig        `yaml:"llm"`
	OpenSource     OpenSourceConfig `yaml:"open_source"`
	Auth           AuthConfig       `yaml:"auth"`
	RateLimit      RateLimitConfig  `yaml:"rate_limit"`
	Telemetry      TelemetryConfig  `yaml:"telemetry"`
	Artifacts      ArtifactConfig   `yaml:"artifacts"`
}

// Default returns the settings used when nothing is configured: mock model,
// lite mode under ./data, JWT auth, open source off.
func Default() *Config {
	return &Config{
		Port:           "8080",
		LogLevel:       "INFO",
		DataDir:        "data",
		RequestTimeout: 60 * time.Second,
		RAGMatchCount:  5,
		LLM: LLMConfig{
			Provider:     "mock",
			ModelVersion: "v0",
			Temperature:  0.2,
			MaxTokens:    512,
		},
		OpenSource: OpenSourceConfig{
			MaxResults:   6,
			MaxChars:     8000,
			SerpProvider: "serper",
		},
		Auth:      AuthConfig{Mode: AuthJWT, JWTIssuer: "veridecide"},
		RateLimit: RateLimitConfig{RPS: 5, Burst: 20},
		Artifacts: ArtifactConfig{Type: "fs"},
	}
}

// Load builds the configuration: defaults, then the VERIDECIDE_CONFIG
// file when set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// envReader applies string-valued variables and records the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v)
		return
	}
	*dst = b
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v)
		return
	}
	*dst = n
}

func (r *envReader) float(key string, dst *float64) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v)
		return
	}
	*dst = f
}

// duration accepts Go durations ("90s") or plain seconds ("90").
func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v)
		return
	}
	*dst = d
}

func (r *envReader) list(key string, dst *[]string) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (r *envReader) fail(key, value string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s=%q", ErrInvalid, key, value)
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	r := &envReader{lookup: lookup}
	r.str("PORT", &c.Port)
	r.str("LOG_LEVEL", &c.LogLevel)
	r.str("DATABASE_URL", &c.DatabaseURL)
	r.str("DATA_DIR", &c.DataDir)
	r.duration("REQUEST_TIMEOUT", &c.RequestTimeout)
	r.integer("RAG_MATCH_COUNT", &c.RAGMatchCount)
	r.str("REDIS_ADDR", &c.RedisAddr)
	r.str("POLICY_DIR", &c.PolicyDir)
	r.str("LEXICON_FILE", &c.LexiconFile)

	r.str("LLM_PROVIDER", &c.LLM.Provider)
	r.str("LLM_SERVICE_URL", &c.LLM.ServiceURL)
	r.str("LLM_API_KEY", &c.LLM.APIKey)
	r.str("LLM_MODEL_NAME", &c.LLM.ModelName)
	r.str("LLM_MODEL_VERSION", &c.LLM.ModelVersion)
	r.float("LLM_TEMPERATURE", &c.LLM.Temperature)
	r.integer("LLM_MAX_TOKENS", &c.LLM.MaxTokens)

	r.boolean("OPEN_SOURCE_ENABLED", &c.OpenSource.Enabled)
	if v, ok := lookup("OPEN_SOURCE_ALLOWLIST"); ok {
		c.OpenSource.Allowlist = &v
	}
	r.integer("OPEN_SOURCE_MAX_RESULTS", &c.OpenSource.MaxResults)
	r.integer("OPEN_SOURCE_MAX_CHARS", &c.OpenSource.MaxChars)
	r.str("SERP_PROVIDER", &c.OpenSource.SerpProvider)
	r.str("SERP_API_KEY", &c.OpenSource.SerpAPIKey)
	r.str("SERP_API_URL", &c.OpenSource.SerpAPIURL)

	r.str("AUTH_MODE", &c.Auth.Mode)
	r.str("JWT_SECRET", &c.Auth.JWTSecret)
	r.str("JWT_ISSUER", &c.Auth.JWTIssuer)
	r.list("CORS_ORIGINS", &c.Auth.CORSOrigins)

	r.float("RATE_LIMIT_RPS", &c.RateLimit.RPS)
	r.integer("RATE_LIMIT_BURST", &c.RateLimit.Burst)

	r.boolean("OTEL_ENABLED", &c.Telemetry.Enabled)
	r.str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	r.str("ARTIFACT_STORAGE_TYPE", &c.Artifacts.Type)
	r.str("ARTIFACT_PREFIX", &c.Artifacts.Prefix)
	r.str("ARTIFACT_S3_BUCKET", &c.Artifacts.S3Bucket)
	r.str("ARTIFACT_S3_REGION", &c.Artifacts.S3Region)
	r.str("ARTIFACT_S3_ENDPOINT", &c.Artifacts.S3Endpoint)
	r.str("ARTIFACT_GCS_BUCKET", &c.Artifacts.GCSBucket)
	return r.err
}

// Validate rejects settings the binary cannot run with.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		bad("LOG_LEVEL %q", c.LogLevel)
	}
	switch c.Auth.Mode {
	case AuthJWT, AuthHeader:
	default:
		bad("AUTH_MODE %q (want jwt or header)", c.Auth.Mode)
	}
	if c.RequestTimeout <= 0 {
		bad("REQUEST_TIMEOUT must be positive")
	}
	if c.RAGMatchCount < 1 {
		bad("RAG_MATCH_COUNT must be at least 1")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		bad("LLM_TEMPERATURE %v out of [0, 2]", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens < 1 {
		bad("LLM_MAX_TOKENS must be at least 1")
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		bad("rate limit must not be negative")
	}
	switch c.Artifacts.Type {
	case "fs", "memory":
	case "s3":
		if c.Artifacts.S3Bucket == "" {
			bad("ARTIFACT_S3_BUCKET is required for s3")
		}
	case "gcs":
		if c.Artifacts.GCSBucket == "" {
			bad("ARTIFACT_GCS_BUCKET is required for gcs")
		}
	default:
		bad("ARTIFACT_STORAGE_TYPE %q", c.Artifacts.Type)
	}
	return errors.Join(errs...)
}

// LiteMode reports whether the embedded SQLite database is used.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}
