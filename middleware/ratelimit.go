package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"certinv/internal/httputil"
)

type RateLimitConfig struct {
	MaxRequests        int
	Window             time.Duration
	MaxEntries         int
	TrustProxy         bool
	ExemptPaths        []string
	ExemptPathPrefixes []string
}

type rateLimiterEntry struct {
	count   int
	resetAt time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	entries map[string]rateLimiterEntry
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 300,
		Window:      time.Minute,
		MaxEntries:  10_000,
		ExemptPaths: []string{"/api/health", "/api/ready", "/metrics"},
	}
}

// RateLimit applies a fixed-window request budget per client IP.
func RateLimit(config RateLimitConfig) func(http.Handler) http.Handler {
	limiter := &rateLimiter{config: config, entries: make(map[string]rateLimiterEntry)}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || shouldSkipRateLimit(r, config) {
				next.ServeHTTP(w, r)
				return
			}
			allowed, retryAfter := limiter.allow(time.Now(), httputil.ClientIP(r, config.TrustProxy))
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				}
				httputil.WriteError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func shouldSkipRateLimit(r *http.Request, config RateLimitConfig) bool {
	path := r.URL.Path
	for _, exempt := range config.ExemptPaths {
		if path == exempt {
			return true
		}
	}
	for _, prefix := range config.ExemptPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (l *rateLimiter) allow(now time.Time, key string) (bool, int) {
	if key == "" {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	entry := l.entries[key]
	if entry.resetAt.IsZero() || now.After(entry.resetAt) {
		entry = rateLimiterEntry{resetAt: now.Add(l.config.Window)}
	}
	entry.count++
	l.entries[key] = entry
	if entry.count <= l.config.MaxRequests {
		return true, 0
	}
	return false, max(int(entry.resetAt.Sub(now).Seconds()), 0)
}

// prune drops expired windows, then evicts the oldest entries while the
// table is over MaxEntries.
func (l *rateLimiter) prune(now time.Time) {
	for key, entry := range l.entries {
		if now.After(entry.resetAt) {
			delete(l.entries, key)
		}
	}
	if l.config.MaxEntries <= 0 {
		return
	}
	for len(l.entries) > l.config.MaxEntries {
		var oldestKey string
		var oldestResetAt time.Time
		for key, entry := range l.entries {
			if oldestKey == "" || entry.resetAt.Before(oldestResetAt) {
				oldestKey = key
				oldestResetAt = entry.resetAt
			}
		}
		delete(l.entries, oldestKey)
	}
}
