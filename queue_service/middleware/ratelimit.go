package middleware

import (
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/itskum47/waitroom/queue_service/observability"
)

// PerKeyLimiter hands out one token bucket per key, normally the client
// IP. Buckets are created on first sight and never evicted; the keyspace
// is bounded by the client population of a single node.
type PerKeyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// NewPerKeyLimiter creates a limiter with rate r tokens per second and
// burst b per key.
func NewPerKeyLimiter(r rate.Limit, b int) *PerKeyLimiter {
	return &PerKeyLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		b:        b,
	}
}

// Allow reports whether the key may proceed.
func (l *PerKeyLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter.Allow()
}

// PerMinute expresses n requests per minute as a rate.
func PerMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60)
}

// PerWindow expresses n requests per window as a rate.
func PerWindow(n int, window time.Duration) rate.Limit {
	return rate.Limit(float64(n) / window.Seconds())
}

// RateLimit enforces a per-IP budget on the wrapped handler. Rejections
// carry a jittered Retry-After so synchronized clients don't retry as a
// storm.
func RateLimit(endpoint string, limiter *PerKeyLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				observability.APIRateLimited.WithLabelValues(endpoint).Inc()
				// Jitter: 1s base + 0-1000ms random
				retryAfter := 1000 + rand.Intn(1000)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter/1000+1))
				http.Error(w, "Too Many Requests (Storm Protection Active)", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys the limiter by remote address. Behind chi's RealIP
// middleware RemoteAddr already holds the forwarded client address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
