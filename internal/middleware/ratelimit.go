package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientAddr is the first valid X-Forwarded-For hop, else the host part of
// RemoteAddr.
func clientAddr(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := net.ParseIP(strings.TrimSpace(hop)); ip != nil {
			return ip.String()
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// buckets holds one token bucket per client. Buckets idle for longer than ttl
// are dropped on the next sweep.
type buckets struct {
	mu        sync.Mutex
	every     rate.Limit
	burst     int
	ttl       time.Duration
	seen      map[string]time.Time
	limiters  map[string]*rate.Limiter
	lastSweep time.Time
}

func (b *buckets) allow(key string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastSweep) > b.ttl {
		for k, at := range b.seen {
			if now.Sub(at) > b.ttl {
				delete(b.seen, k)
				delete(b.limiters, k)
			}
		}
		b.lastSweep = now
	}
	lim, ok := b.limiters[key]
	if !ok {
		lim = rate.NewLimiter(b.every, b.burst)
		b.limiters[key] = lim
	}
	b.seen[key] = now
	return lim.AllowN(now, 1)
}

// RateLimit allows limit requests per window for each client address, with a
// burst of the full window. A non-positive limit disables it.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	b := &buckets{
		every:     rate.Every(per / time.Duration(limit)),
		burst:     limit,
		ttl:       3 * per,
		seen:      make(map[string]time.Time),
		limiters:  make(map[string]*rate.Limiter),
		lastSweep: time.Now(),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !b.allow(clientAddr(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","message":"too many requests"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
