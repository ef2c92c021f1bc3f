// Package ratelimit implements the peer-keyed sliding-window HTTP
// middleware described in §6/§5's backpressure note. Grounded on
// internal/server/middleware.go's wrapper-around-http.Handler idiom
// (SecurityHeadersMiddleware), with the counting primitive itself backed
// by golang.org/x/time/rate's token bucket rather than a hand-rolled
// map+mutex counter.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces requestsPerWindow requests per window per peer
// identity, implemented as a token bucket refilling at
// requestsPerWindow/window tokens per second with a burst equal to
// requestsPerWindow.
type Limiter struct {
	mu               sync.Mutex
	buckets          map[string]*bucket
	requestsPerWindow int
	window           time.Duration
	trustProxyHeader bool
	maxIdle          time.Duration
}

type bucket struct {
	limiter    *rate.Limiter
	lastSeenAt time.Time
}

func New(requestsPerWindow int, window time.Duration, trustProxyHeader bool) *Limiter {
	return &Limiter{
		buckets:           make(map[string]*bucket),
		requestsPerWindow: requestsPerWindow,
		window:            window,
		trustProxyHeader:  trustProxyHeader,
		maxIdle:           10 * window,
	}
}

// Middleware wraps next with the rate-limit check, writing
// X-RateLimit-Limit/-Remaining and, on rejection, Retry-After and a 429
// status, in the style of internal/server/middleware.go's header-wrapper
// middleware.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.peerKey(r)
		b := l.bucketFor(key)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.requestsPerWindow))

		if !b.limiter.Allow() {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			http.Error(w, `{"error":{"code":"rate_limited","message":"too many requests"}}`, http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(b.limiter.Tokens())))
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		perSecond := rate.Limit(float64(l.requestsPerWindow) / l.window.Seconds())
		b = &bucket{limiter: rate.NewLimiter(perSecond, l.requestsPerWindow)}
		l.buckets[key] = b
	}
	b.lastSeenAt = time.Now()
	return b
}

// CleanupIdle removes buckets that have not been touched within the
// configured idle window, so a long-running daemon's limiter map doesn't
// grow unbounded with one-off peers.
func (l *Limiter) CleanupIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.maxIdle)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeenAt.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) peerKey(r *http.Request) string {
	if l.trustProxyHeader {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return fwd
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ErrRateLimited is returned by Allow, the entry point for callers that
// use the same limiter without going through net/http.
type ErrRateLimited struct{ RetryAfter time.Duration }

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Allow applies the same per-peer check outside an HTTP handler.
func (l *Limiter) Allow(peerID string) error {
	b := l.bucketFor(peerID)
	if !b.limiter.Allow() {
		return &ErrRateLimited{RetryAfter: l.window}
	}
	return nil
}
