package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const tooManyBody = `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`

const (
	limiterSweepInterval = 10 * time.Minute
	limiterIdleTimeout   = 30 * time.Minute
)

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiters holds one token bucket per key. Idle buckets are swept until ctx
// is done.
type limiters[K comparable] struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	entries map[K]*entry
}

func newLimiters[K comparable](ctx context.Context, rps float64, burst int) *limiters[K] {
	l := &limiters[K]{
		rps:     rate.Limit(rps),
		burst:   burst,
		entries: make(map[K]*entry),
	}
	go l.sweep(ctx)
	return l
}

func (l *limiters[K]) allow(key K) bool {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.entries[key] = e
	}
	e.lastAccess = time.Now()
	l.mu.Unlock()

	return e.limiter.Allow()
}

func (l *limiters[K]) sweep(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterIdleTimeout)
			l.mu.Lock()
			for k, e := range l.entries {
				if e.lastAccess.Before(cutoff) {
					delete(l.entries, k)
				}
			}
			l.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// RateLimitByIP limits unauthenticated endpoints per client address, as set
// by chi's RealIP.
func RateLimitByIP(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	l := newLimiters[string](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(r.RemoteAddr) {
				http.Error(w, tooManyBody, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit limits authenticated endpoints per session. Requests without a
// session pass through.
func RateLimit(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	l := newLimiters[uuid.UUID](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, ok := SessionIDFromContext(r.Context())
			if ok && !l.allow(sessionID) {
				http.Error(w, tooManyBody, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
