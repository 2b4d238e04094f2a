package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter applies a token bucket per client IP. Entries idle for longer
// than ttl are evicted by a background sweep until Stop is called.
type ipRateLimiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration

	mu       sync.Mutex
	limiters map[string]*limiterEntry

	stop     chan struct{}
	stopOnce sync.Once
}

func newIPRateLimiter(rps float64, burst int, ttl time.Duration) *ipRateLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &ipRateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		limiters: make(map[string]*limiterEntry),
		stop:     make(chan struct{}),
	}
	go l.sweepLoop(5 * time.Minute)
	return l
}

func (l *ipRateLimiter) get(identity string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.limiters[identity]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[identity] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (l *ipRateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}

func (l *ipRateLimiter) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

func (l *ipRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429 in the JSON envelope.
func (l *ipRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.get(clientIP(r), time.Now()).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"error":"rate limit exceeded, please slow down"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
