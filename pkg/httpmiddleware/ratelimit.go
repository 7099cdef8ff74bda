package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window and key. Zero disables limiting.
	Max    int           `default:"600" usage:"requests allowed per window and tenant"`
	Window time.Duration `default:"1m" usage:"rate limit window"`
}

// KeyFunc selects the bucket a request is counted against.
type KeyFunc func(*http.Request) string

// window counts requests of the current and previous fixed windows; the
// previous count is weighted by its overlap with the sliding window.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

type limiter struct {
	max   int
	size  time.Duration
	key   KeyFunc
	mu    sync.Mutex
	byKey map[string]*window
}

func newLimiter(cfg RateLimitConfig, key KeyFunc) *limiter {
	if key == nil {
		key = TenantKey
	}
	return &limiter{
		max:   cfg.Max,
		size:  cfg.Window,
		key:   key,
		byKey: make(map[string]*window),
	}
}

// take records one request for key at now unless the limit is reached.
func (l *limiter) take(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.byKey[key]
	if !found {
		w = &window{start: now.Truncate(l.size)}
		l.byKey[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= l.size {
		if elapsed >= 2*l.size {
			w.prev = 0
		} else {
			w.prev = w.curr
		}
		w.curr = 0
		w.start = now.Truncate(l.size)
	}

	overlap := max(1-now.Sub(w.start).Seconds()/l.size.Seconds(), 0)
	count := w.prev*overlap + w.curr
	reset = w.start.Add(l.size)
	if count >= float64(l.max) {
		return 0, reset, false
	}
	w.curr++
	return max(int(float64(l.max)-count-1), 0), reset, true
}

// evict drops keys idle for two windows.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.byKey {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.byKey, k)
		}
	}
}

// RateLimit limits requests per key (TenantKey when nil) with a sliding
// window and answers 429 when the limit is hit. Every response carries
// X-RateLimit-* headers. Stale keys are evicted every two windows until ctx
// is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig, key KeyFunc) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(cfg, key)
	go func() {
		ticker := time.NewTicker(2 * l.size)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.evict(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, reset, ok := l.take(l.key(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				retry := max(time.Until(reset), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"rate limit exceeded"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TenantKey limits per tenant, falling back to the client address for
// requests without a tenant header.
func TenantKey(r *http.Request) string {
	if t := r.Header.Get(TenantHeader); t != "" {
		return "tenant:" + t
	}
	return "ip:" + ClientIP(r)
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
