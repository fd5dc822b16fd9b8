package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second per client.
	Rate rate.Limit
	// Burst is the maximum burst size per client.
	Burst int
	// CleanupInterval is how often idle entries are swept.
	CleanupInterval time.Duration
	// MaxAge is how long an idle entry is kept.
	MaxAge time.Duration
}

// DefaultRateLimitConfig allows 50 requests/second with a burst of 100. The
// platform bridge posts several call events per state change, so the burst
// is sized for a conference merge rather than for interactive use.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(50),
		Burst:           100,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client address.
type IPRateLimiter struct {
	cfg    RateLimitConfig
	stopCh chan struct{}
	once   sync.Once

	mu       sync.Mutex
	entries  map[string]*limiterEntry
	rejected int64
}

// NewIPRateLimiter creates a limiter and starts its sweeper goroutine. Call
// Stop to end it.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	rl := &IPRateLimiter{
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		entries: make(map[string]*limiterEntry),
	}
	go rl.sweep()
	return rl
}

// Allow reports whether a request from ip may proceed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.entries[ip] = e
	}
	e.lastSeen = time.Now()
	if !e.limiter.Allow() {
		rl.rejected++
		return false
	}
	return true
}

// Rejected returns the number of requests refused since creation.
func (rl *IPRateLimiter) Rejected() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.rejected
}

// Stop ends the sweeper goroutine. It is safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

func (rl *IPRateLimiter) sweep() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *IPRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.MaxAge)
	before := len(rl.entries)
	for ip, e := range rl.entries {
		if !e.lastSeen.After(cutoff) {
			delete(rl.entries, ip)
		}
	}
	if n := before - len(rl.entries); n > 0 {
		slog.Debug("api rate limiter cleanup", "removed", n, "remaining", len(rl.entries))
	}
}

// RateLimit returns middleware that answers 429 with Retry-After once a
// client exceeds its budget.
func RateLimit(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)
			if !limiter.Allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "method", r.Method, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractIP strips the port from RemoteAddr. chi's RealIP middleware runs
// first when the API sits behind a proxy.
func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
