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

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

// slidingWindow approximates a rolling window from two fixed ones: the
// previous window's count is weighted by how much of it still overlaps.
type slidingWindow struct {
	start time.Time
	curr  float64
	prev  float64
}

func (sw *slidingWindow) advance(now time.Time, size time.Duration) {
	elapsed := now.Sub(sw.start)
	switch {
	case elapsed < size:
		return
	case elapsed < 2*size:
		sw.prev = sw.curr
	default:
		sw.prev = 0
	}
	sw.curr = 0
	sw.start = now.Truncate(size)
}

func (sw *slidingWindow) estimate(now time.Time, size time.Duration) float64 {
	overlap := 1 - now.Sub(sw.start).Seconds()/size.Seconds()
	return sw.prev*math.Max(overlap, 0) + sw.curr
}

type limiter struct {
	max     int
	size    time.Duration
	keyFunc func(*http.Request) string

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{
		max:     cfg.Max,
		size:    cfg.Window,
		keyFunc: cfg.KeyFunc,
		windows: make(map[string]*slidingWindow),
	}
	if l.keyFunc == nil {
		l.keyFunc = ClientIP
	}
	return l
}

// take consumes one request for key if the estimate is below the limit.
func (l *limiter) take(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sw, found := l.windows[key]
	if !found {
		sw = &slidingWindow{start: now.Truncate(l.size)}
		l.windows[key] = sw
	}
	sw.advance(now, l.size)
	reset = sw.start.Add(l.size)

	used := sw.estimate(now, l.size)
	if used >= float64(l.max) {
		return 0, reset, false
	}
	sw.curr++
	return max(int(float64(l.max)-used-1), 0), reset, true
}

// evict drops windows idle for two full periods.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, sw := range l.windows {
		if now.Sub(sw.start) >= 2*l.size {
			delete(l.windows, key)
		}
	}
}

func (l *limiter) evictLoop(ctx context.Context) {
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
}

// RateLimit rejects clients over the limit with 429. Responses carry
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset. Idle
// clients are evicted in the background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.evictLoop(ctx)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	limit := strconv.Itoa(l.max)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		remaining, reset, ok := l.take(l.keyFunc(r), now)

		h := w.Header()
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			wait := max(reset.Sub(now), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP keys requests by the first X-Forwarded-For hop, then X-Real-IP,
// then the peer address.
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

// HeaderOrClientIP keys requests by the named header, falling back to
// ClientIP when it is absent. Used to limit per API key.
func HeaderOrClientIP(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return ClientIP(r)
	}
}
