// Package llm talks to the untrusted text generators behind the pipeline.
// Nothing a Generator returns is trusted before validation.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider names accepted by New.
const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

var (
	// ErrUnknownProvider is returned by New for an unsupported provider.
	ErrUnknownProvider = errors.New("llm: unknown provider")
	// ErrMissingAPIKey is returned by New when a hosted provider has no key.
	ErrMissingAPIKey = errors.New("llm: missing api key")
	// ErrEmptyResponse is returned when a provider answered with no text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Request is one generation call.
type Request struct {
	System string
	Prompt string
}

// Response is the generated text plus any anomaly flags raised by Guard.
type Response struct {
	Text  string   `json:"text"`
	Flags []string `json:"flags,omitempty"`
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Version     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultConfig is the mock provider with the reference sampling parameters.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderMock,
		Version:     "v0",
		Temperature: 0.2,
		MaxTokens:   512,
		Timeout:     60 * time.Second,
	}
}

// ModelName resolves the model name recorded for cfg.
func (c Config) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	switch strings.ToLower(c.Provider) {
	case ProviderGemini:
		return "gemini"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return "untrusted-text-generator"
	}
}

// ModelMetadata identifies the model and exact input behind an output.
type ModelMetadata struct {
	Provider     string             `json:"provider"`
	ModelName    string             `json:"model_name"`
	ModelVersion string             `json:"model_version"`
	Parameters   map[string]float64 `json:"parameters"`
	RequestHash  string             `json:"request_hash"`
}

// Metadata describes req as sent through cfg.
func Metadata(cfg Config, req Request) ModelMetadata {
	provider := cfg.Provider
	if provider == "" {
		provider = ProviderMock
	}
	version := cfg.Version
	if version == "" {
		version = "v0"
	}
	return ModelMetadata{
		Provider:     provider,
		ModelName:    cfg.ModelName(),
		ModelVersion: version,
		Parameters: map[string]float64{
			"temperature":     cfg.Temperature,
			"maxOutputTokens": float64(cfg.MaxTokens),
		},
		RequestHash: RequestHash(req),
	}
}

// RequestHash is the hex SHA-256 of system and prompt joined by a newline.
func RequestHash(req Request) string {
	sum := sha256.Sum256([]byte(req.System + "\n" + req.Prompt))
	return hex.EncodeToString(sum[:])
}

// New builds the Generator named by cfg.Provider, wrapped in a Guard.
func New(cfg Config) (Generator, error) {
	var gen Generator
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderMock:
		gen = NewMockClient()
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w for %s", ErrMissingAPIKey, ProviderOpenAI)
		}
		gen = NewOpenAIClient(cfg)
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w for %s", ErrMissingAPIKey, ProviderGemini)
		}
		gen = NewGeminiClient(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	return NewGuard(gen, DefaultGuardConfig()), nil
}
