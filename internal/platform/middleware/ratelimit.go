package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns the settings used when none are configured.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// staleAfter is how long a bucket may sit untouched before it becomes a
// candidate for eviction. An idle bucket refills to capacity well before
// this, so dropping one loses nothing.
const staleAfter = 10 * time.Minute

// sweepThreshold is the tracked-key count that triggers an eviction sweep
// on the next insert.
const sweepThreshold = 4096

// bucket is a token bucket. last is both the refill anchor and the idle
// marker for eviction.
type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// take refills the bucket for the elapsed time and tries to spend one
// token. When the bucket is empty, wait is how long until a token becomes
// available.
func (b *bucket) take(rate, capacity float64) (ok bool, remaining int, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens = math.Min(capacity, b.tokens+now.Sub(b.last).Seconds()*rate)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	if rate <= 0 {
		return false, 0, time.Second
	}
	return false, 0, time.Duration((1 - b.tokens) / rate * float64(time.Second))
}

// limiter tracks one bucket per client key.
type limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// bucketFor returns the bucket for key, creating it full on first sight.
func (l *limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= sweepThreshold {
			l.evictStale()
		}
		b = &bucket{tokens: float64(l.cfg.BurstSize), last: time.Now()}
		l.buckets[key] = b
	}
	return b
}

// evictStale drops buckets idle past staleAfter. Caller holds l.mu.
func (l *limiter) evictStale() {
	cutoff := time.Now().Add(-staleAfter)
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := b.last.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
		}
	}
}

// RateLimit enforces a per-client token bucket. Clients are keyed by tenant
// and source IP, so one tenant's burst cannot starve another's.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if tenantID, ok := c.Get("jwt_tenant_id").(string); ok && tenantID != "" {
				key = tenantID + ":" + key
			}

			ok, remaining, wait := l.bucketFor(key).take(cfg.RequestsPerSecond, float64(cfg.BurstSize))

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
