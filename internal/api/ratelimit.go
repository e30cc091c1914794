package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// secondsPerMinute converts the configured requests-per-minute figure
// into the per-second refill rate the limiter wants.
const secondsPerMinute = 60.0

// clientLimiter pairs a token bucket with its last activity time so
// idle buckets can be evicted.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter tracks a token bucket per client IP. Only the public
// auth endpoints sit behind it; authenticated traffic is already
// bounded by session checks.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
}

func newRateLimiter(requestsPerMinute, burst int) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(requestsPerMinute) / secondsPerMinute),
		burst:   burst,
	}
}

// allow reports whether the given client may proceed, consuming one
// token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

// sweep drops buckets that have been idle longer than maxIdle.
func (rl *rateLimiter) sweep(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for ip, cl := range rl.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// rateLimitMiddleware throttles requests per client IP. Throttled
// requests get a 429 with the shared error envelope.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
			s.recordRateLimited()
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

const (
	limiterSweepInterval = time.Minute
	limiterMaxIdle       = 10 * time.Minute
)

// limiterSweepLoop evicts idle rate-limit buckets until the context is
// cancelled.
func (s *Server) limiterSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.sweep(limiterMaxIdle)
		}
	}
}
