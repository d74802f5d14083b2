package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// rateLimitConfig holds the rate limiter settings.
type rateLimitConfig struct {
	rps   rate.Limit
	burst int
}

// TenantRateLimiter keeps an in-process token bucket per key (tenant or IP).
type TenantRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	config   rateLimitConfig
	idle     time.Duration
	stop     chan struct{}
	once     sync.Once
}

// visitor tracks the rate limiter and last seen time for a key.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ Limiter = (*TenantRateLimiter)(nil)

// NewTenantRateLimiter creates a new rate limiter.
// rps: requests per second allowed.
// burst: maximum burst size.
func NewTenantRateLimiter(rps float64, burst int) *TenantRateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &TenantRateLimiter{
		visitors: make(map[string]*visitor),
		config: rateLimitConfig{
			rps:   rate.Limit(rps),
			burst: burst,
		},
		idle: 3 * time.Minute,
		stop: make(chan struct{}),
	}
	go rl.cleanupVisitors(time.Minute)
	return rl
}

// Allow consumes one token from key's bucket.
func (rl *TenantRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return rl.getVisitor(key).Allow(), nil
}

// Close stops the background cleanup.
func (rl *TenantRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *TenantRateLimiter) getVisitor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(rl.config.rps, rl.config.burst)
		rl.visitors[key] = &visitor{limiter, time.Now()}
		return limiter
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors drops buckets idle for longer than rl.idle.
func (rl *TenantRateLimiter) cleanupVisitors(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep(time.Now())
		}
	}
}

func (rl *TenantRateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.visitors, key)
		}
	}
}

func (rl *TenantRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}
