package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func doRateLimited(t *testing.T, handler echo.HandlerFunc, clientIP string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if clientIP != "" {
		req.Header.Set("X-Real-IP", clientIP)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, handler(c)
}

func TestRateLimit_RequestsWithinBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 5; i++ {
		rec, err := doRateLimited(t, handler, "")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: X-RateLimit-Limit = %q, want 10", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 2; i++ {
		if _, err := doRateLimited(t, handler, ""); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec, err := doRateLimited(t, handler, "")
	if err == nil {
		t.Fatal("expected error for rate-limited request")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}

	retryAfter := rec.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("expected Retry-After header")
	}
	if val, perr := strconv.Atoi(retryAfter); perr != nil || val < 1 {
		t.Errorf("Retry-After = %q, want integer >= 1", retryAfter)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if _, err := doRateLimited(t, handler, "10.0.0.1"); err != nil {
		t.Fatalf("first client: expected no error, got %v", err)
	}
	if _, err := doRateLimited(t, handler, "10.0.0.1"); err == nil {
		t.Fatal("first client: expected rate limit on second request")
	}
	// A different client has its own bucket.
	if _, err := doRateLimited(t, handler, "10.0.0.2"); err != nil {
		t.Fatalf("second client: expected no error, got %v", err)
	}
}

func TestBucket_RefillsOverTime(t *testing.T) {
	b := newBucket(100, 1)
	if !b.take() {
		t.Fatal("expected initial token")
	}
	if b.take() {
		t.Fatal("expected empty bucket")
	}
	time.Sleep(20 * time.Millisecond)
	if !b.take() {
		t.Error("expected token after refill interval")
	}
}

func TestBucket_RetryAfterWithZeroRate(t *testing.T) {
	b := newBucket(0, 1)
	b.take()
	if ra := b.retryAfter(); ra != 1 {
		t.Errorf("retryAfter = %d, want 1 for zero rate", ra)
	}
}

func TestLimiter_PrunesIdleClients(t *testing.T) {
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})
	stale := l.get("10.0.0.1")
	stale.mu.Lock()
	stale.lastSeen = time.Now().Add(-time.Hour)
	stale.mu.Unlock()
	l.lastPrune = time.Now().Add(-time.Hour)

	l.get("10.0.0.2")
	l.mu.Lock()
	_, kept := l.buckets["10.0.0.1"]
	l.mu.Unlock()
	if kept {
		t.Error("expected idle client to be pruned")
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 {
		t.Errorf("RequestsPerSecond = %f, want 100", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 200 {
		t.Errorf("BurstSize = %d, want 200", cfg.BurstSize)
	}
}
