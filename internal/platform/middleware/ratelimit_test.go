package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func rateLimitedEcho(cfg RateLimitConfig) *echo.Echo {
	e := echo.New()
	e.Use(RateLimit(cfg))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func hitFrom(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":42100"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	e := rateLimitedEcho(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec := hitFrom(e, "198.51.100.1")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: X-RateLimit-Limit = %q", i+1, got)
		}
		wantRemaining := strconv.Itoa(5 - i - 1)
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: X-RateLimit-Remaining = %q, want %q", i+1, got, wantRemaining)
		}
	}
}

func TestRateLimit_RejectsWhenExhausted(t *testing.T) {
	e := rateLimitedEcho(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if rec := hitFrom(e, "198.51.100.2"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}

	rec := hitFrom(e, "198.51.100.2")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want an integer >= 1", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_RefillsOverTime(t *testing.T) {
	e := rateLimitedEcho(RateLimitConfig{RequestsPerSecond: 100, BurstSize: 1})

	if rec := hitFrom(e, "198.51.100.3"); rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d", rec.Code)
	}
	if rec := hitFrom(e, "198.51.100.3"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted bucket: status %d, want 429", rec.Code)
	}

	// At 100 req/s a token returns after 10ms.
	time.Sleep(20 * time.Millisecond)

	if rec := hitFrom(e, "198.51.100.3"); rec.Code != http.StatusOK {
		t.Errorf("after refill: status %d, want 200", rec.Code)
	}
}

func TestRateLimit_KeyIsolation(t *testing.T) {
	e := rateLimitedEcho(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if rec := hitFrom(e, "198.51.100.4"); rec.Code != http.StatusOK {
		t.Fatalf("first client: status %d", rec.Code)
	}
	if rec := hitFrom(e, "198.51.100.4"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client again: status %d, want 429", rec.Code)
	}

	// A different source IP has its own bucket.
	if rec := hitFrom(e, "198.51.100.5"); rec.Code != http.StatusOK {
		t.Errorf("second client: status %d, want 200", rec.Code)
	}
}

func TestRateLimit_TenantScopedKeys(t *testing.T) {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("jwt_tenant_id", c.Request().Header.Get("X-Test-Tenant"))
			return next(c)
		}
	})
	e.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	hitAs := func(tenant string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.6:42100"
		req.Header.Set("X-Test-Tenant", tenant)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := hitAs("clinic-a"); code != http.StatusOK {
		t.Fatalf("clinic-a first: status %d", code)
	}
	if code := hitAs("clinic-a"); code != http.StatusTooManyRequests {
		t.Fatalf("clinic-a second: status %d, want 429", code)
	}

	// Same IP, different tenant: separate bucket.
	if code := hitAs("clinic-b"); code != http.StatusOK {
		t.Errorf("clinic-b from the same IP: status %d, want 200", code)
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 {
		t.Errorf("RequestsPerSecond = %g, want 100", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 200 {
		t.Errorf("BurstSize = %d, want 200", cfg.BurstSize)
	}
}

func TestBucket_Take(t *testing.T) {
	b := &bucket{tokens: 2, last: time.Now()}

	ok, remaining, _ := b.take(1, 2)
	if !ok || remaining != 1 {
		t.Errorf("first take = (%v, %d), want (true, 1)", ok, remaining)
	}
	ok, remaining, _ = b.take(1, 2)
	if !ok || remaining != 0 {
		t.Errorf("second take = (%v, %d), want (true, 0)", ok, remaining)
	}

	ok, _, wait := b.take(1, 2)
	if ok {
		t.Error("empty bucket should reject")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("wait = %v, want within (0, 1s]", wait)
	}
}

func TestLimiter_EvictsStaleBuckets(t *testing.T) {
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	for i := 0; i < sweepThreshold; i++ {
		l.bucketFor("key-" + strconv.Itoa(i))
	}
	if len(l.buckets) != sweepThreshold {
		t.Fatalf("tracked buckets = %d, want %d", len(l.buckets), sweepThreshold)
	}

	// Age every bucket past the idle cutoff, then insert one more key.
	for _, b := range l.buckets {
		b.last = time.Now().Add(-time.Hour)
	}
	l.bucketFor("fresh")

	if len(l.buckets) != 1 {
		t.Errorf("buckets after sweep = %d, want 1", len(l.buckets))
	}
	if _, ok := l.buckets["fresh"]; !ok {
		t.Error("the fresh key should survive the sweep")
	}
}
