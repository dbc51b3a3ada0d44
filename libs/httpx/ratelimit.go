package httpx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether key may proceed in the named bucket.
type Limiter interface {
	Allow(ctx context.Context, bucket, key string) (bool, error)
}

// BucketConfig is a token bucket refilled at PerMinute tokens per minute.
type BucketConfig struct {
	PerMinute int
	Burst     int
}

// KeyedLimiter keeps one token bucket per (bucket, key) pair in process memory.
// Entries idle longer than the TTL are evicted by Sweep.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]BucketConfig
	entries map[string]*limiterEntry
	ttl     time.Duration
	now     func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewKeyedLimiter(buckets map[string]BucketConfig, ttl time.Duration) *KeyedLimiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	cfg := make(map[string]BucketConfig, len(buckets))
	for name, b := range buckets {
		if b.PerMinute <= 0 {
			continue
		}
		if b.Burst <= 0 {
			b.Burst = b.PerMinute
		}
		cfg[name] = b
	}
	return &KeyedLimiter{
		buckets: cfg,
		entries: map[string]*limiterEntry{},
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow never fails; unknown buckets are unlimited.
func (l *KeyedLimiter) Allow(_ context.Context, bucket, key string) (bool, error) {
	cfg, ok := l.buckets[bucket]
	if !ok {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	id := bucket + "|" + key
	e := l.entries[id]
	if e == nil {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), cfg.Burst)}
		l.entries[id] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1), nil
}

// Sweep drops entries not seen within the TTL and returns how many were removed.
func (l *KeyedLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.ttl)
	removed := 0
	for id, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run sweeps on a ticker until ctx is done.
func (l *KeyedLimiter) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// RateLimit guards a handler with one bucket of the limiter. Authenticated
// callers are keyed by user id, anonymous ones by client address. When the
// limiter errors the request passes if failOpen is set.
func RateLimit(l Limiter, bucket string, logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), bucket, clientKey(r))
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter error", "bucket", bucket, "err", err)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			if !ok {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get(UserIDHeader)); uid != "" {
		return "user:" + uid
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return "ip:" + strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
