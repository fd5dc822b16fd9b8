package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testLimiter(t *testing.T, r rate.Limit, burst int, maxAge time.Duration) *IPRateLimiter {
	t.Helper()
	rl := NewIPRateLimiter(RateLimitConfig{
		Rate:            r,
		Burst:           burst,
		CleanupInterval: time.Hour,
		MaxAge:          maxAge,
	})
	t.Cleanup(rl.Stop)
	return rl
}

func TestIPRateLimiterAllow(t *testing.T) {
	rl := testLimiter(t, rate.Limit(2), 2, time.Hour)

	if !rl.Allow("192.168.1.1") || !rl.Allow("192.168.1.1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("192.168.1.1") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("192.168.1.2") {
		t.Fatal("other clients have their own bucket")
	}
	if got := rl.Rejected(); got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

func TestIPRateLimiterCleanup(t *testing.T) {
	rl := testLimiter(t, rate.Limit(10), 10, 0)

	rl.Allow("10.0.0.1")
	rl.cleanup()

	rl.mu.Lock()
	n := len(rl.entries)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries = %d after cleanup, want 0", n)
	}
}

func TestIPRateLimiterStopTwice(t *testing.T) {
	rl := NewIPRateLimiter(DefaultRateLimitConfig())
	rl.Stop()
	rl.Stop()
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := testLimiter(t, rate.Limit(1), 1, time.Hour)
	handler := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls/c1/events", nil)
	req.RemoteAddr = "10.0.0.5:12345"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("first status = %d, want 204", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.1:8080", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remoteAddr
		if got := extractIP(r); got != tt.want {
			t.Errorf("extractIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
