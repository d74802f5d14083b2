package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ErrCircuitOpen is returned while the guard refuses calls after repeated
// provider failures.
var ErrCircuitOpen = errors.New("llm: circuit breaker open")

// Anomaly flags attached to a Response.
const (
	FlagTruncated           = "truncated"
	FlagExcessiveRepetition = "excessive_repetition"
	FlagSuspiciousPattern   = "suspicious_pattern"
)

// GuardConfig configures Guard.
type GuardConfig struct {
	// MaxOutputLength caps the response size in bytes.
	MaxOutputLength int
	// CircuitBreakerThreshold is the number of consecutive failures that opens the circuit.
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultGuardConfig returns the production limits.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxOutputLength:         100000,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// Guard wraps a Generator with an output cap, anomaly flags and a circuit
// breaker. It never retries.
type Guard struct {
	next   Generator
	config GuardConfig
	clock  func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool
}

func NewGuard(next Generator, config GuardConfig) *Guard {
	return &Guard{next: next, config: config, clock: time.Now}
}

func (g *Guard) Generate(ctx context.Context, req Request) (*Response, error) {
	if g.isCircuitOpen(ctx) {
		return nil, ErrCircuitOpen
	}

	resp, err := g.next.Generate(ctx, req)
	if err == nil && (resp == nil || strings.TrimSpace(resp.Text) == "") {
		err = ErrEmptyResponse
	}
	if err != nil {
		if ctx.Err() == nil {
			g.recordFailure(ctx)
		}
		return nil, err
	}
	g.recordSuccess()

	out := &Response{Text: resp.Text, Flags: append([]string(nil), resp.Flags...)}
	if limit := g.config.MaxOutputLength; limit > 0 && len(out.Text) > limit {
		slog.WarnContext(ctx, "truncating LLM output", "original_length", len(out.Text), "max_length", limit)
		out.Text = truncateUTF8(out.Text, limit)
		out.Flags = append(out.Flags, FlagTruncated)
	}
	out.Flags = append(out.Flags, detectAnomalies(out.Text)...)
	return out, nil
}

func (g *Guard) isCircuitOpen(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.open {
		return false
	}
	if g.clock().Sub(g.lastFailure) > g.config.CircuitBreakerTimeout {
		g.open = false
		g.failures = 0
		slog.InfoContext(ctx, "circuit breaker reset")
		return false
	}
	return true
}

func (g *Guard) recordFailure(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures++
	g.lastFailure = g.clock()
	if g.config.CircuitBreakerThreshold > 0 && g.failures >= g.config.CircuitBreakerThreshold && !g.open {
		g.open = true
		slog.WarnContext(ctx, "circuit breaker opened", "failure_count", g.failures)
	}
}

func (g *Guard) recordSuccess() {
	g.mu.Lock()
	g.failures = 0
	g.mu.Unlock()
}

func detectAnomalies(output string) []string {
	var flags []string
	if countRepeatingChars(output) > 10 {
		flags = append(flags, FlagExcessiveRepetition)
	}
	if containsSuspiciousPatterns(output) {
		flags = append(flags, FlagSuspiciousPattern)
	}
	return flags
}

func countRepeatingChars(s string) int {
	if len(s) < 2 {
		return 0
	}
	maxRepeat, current := 1, 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] && s[i] != ' ' && s[i] != '\n' {
			current++
			if current > maxRepeat {
				maxRepeat = current
			}
		} else {
			current = 1
		}
	}
	return maxRepeat
}

var suspiciousPatterns = []string{
	"ignore previous instructions",
	"disregard all prior",
	"you are now",
	"pretend you are",
}

func containsSuspiciousPatterns(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range suspiciousPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
