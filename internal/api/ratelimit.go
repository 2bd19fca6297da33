package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Default per-client rate limit: 20 requests per 10 seconds.
const (
	DefaultRateLimitMax    = 20
	DefaultRateLimitWindow = 10 * time.Second
)

type rateLimitEntry struct {
	count     int
	resetTime time.Time
}

// rateLimitResult is the outcome of a single rate limit check.
type rateLimitResult struct {
	limited   bool
	remaining int
	resetTime time.Time
}

// RateLimiter is a fixed-window per-client limiter held in process memory.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry

	max    int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a rate limiter allowing max requests per window.
// Non-positive arguments fall back to the defaults.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = DefaultRateLimitMax
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{
		entries: make(map[string]*rateLimitEntry),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Check records one request for the identifier and reports whether it
// exceeded the limit.
func (rl *RateLimiter) Check(identifier string) rateLimitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.cleanupLocked(now)

	entry, ok := rl.entries[identifier]
	if !ok || now.After(entry.resetTime) {
		entry = &rateLimitEntry{count: 1, resetTime: now.Add(rl.window)}
		rl.entries[identifier] = entry
		return rateLimitResult{remaining: rl.max - 1, resetTime: entry.resetTime}
	}

	entry.count++
	if entry.count > rl.max {
		slog.Warn("Rate limit exceeded", "identifier", identifier, "count", entry.count, "max", rl.max)
		return rateLimitResult{limited: true, remaining: 0, resetTime: entry.resetTime}
	}
	return rateLimitResult{remaining: rl.max - entry.count, resetTime: entry.resetTime}
}

// Reset clears the window for one identifier.
func (rl *RateLimiter) Reset(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, identifier)
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for key, entry := range rl.entries {
		if now.After(entry.resetTime) {
			delete(rl.entries, key)
		}
	}
}

// clientIdentifier extracts the caller's IP, honoring proxy headers.
func clientIdentifier(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			forwarded = forwarded[:idx]
		}
		return strings.TrimSpace(forwarded)
	}
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// addRateLimitHeaders attaches the standard X-RateLimit-* headers.
func (rl *RateLimiter) addRateLimitHeaders(h http.Header, res rateLimitResult) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.max))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.remaining))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", res.resetTime.Unix()))
	if res.limited {
		retryAfter := int(time.Until(res.resetTime).Seconds()) + 1
		h.Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}
}
