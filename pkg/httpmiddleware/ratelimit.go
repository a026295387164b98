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

	"github.com/go-faster/jx"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window. Zero disables
	// limiting.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request. ClientIP is used
	// when nil.
	KeyFunc func(*http.Request) string
}

// window counts requests of one key over the current and previous fixed
// windows; the sliding count weights the previous one by its overlap.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// Limiter is a per-key sliding window limiter.
type Limiter struct {
	max  int
	size time.Duration

	mu   sync.Mutex
	keys map[string]*window
}

// NewLimiter creates a Limiter allowing max requests per size.
func NewLimiter(max int, size time.Duration) *Limiter {
	return &Limiter{max: max, size: size, keys: make(map[string]*window)}
}

// Allow records a request of key at now. It returns whether the request is
// allowed, the remaining budget and when the current window ends.
func (l *Limiter) Allow(key string, now time.Time) (ok bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.size)
	w, found := l.keys[key]
	switch {
	case !found:
		w = &window{start: start}
		l.keys[key] = w
	case start.Sub(w.start) >= 2*l.size:
		*w = window{start: start}
	case !start.Equal(w.start):
		*w = window{start: start, prev: w.curr}
	}

	overlap := 1 - float64(now.Sub(w.start))/float64(l.size)
	used := w.prev*math.Max(overlap, 0) + w.curr
	reset = w.start.Add(l.size)
	if used >= float64(l.max) {
		return false, 0, reset
	}
	w.curr++
	return true, max(l.max-int(math.Ceil(used+1)), 0), reset
}

// Evict drops keys idle for two windows.
func (l *Limiter) Evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.keys {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.keys, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// RateLimit returns a middleware enforcing cfg. Rejected requests get 429
// with a Retry-After header; every response carries the X-RateLimit-*
// headers. When ctx is non-nil idle keys are evicted until it is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = ClientIP
	}
	l := NewLimiter(cfg.Max, cfg.Window)
	if ctx != nil {
		go evictLoop(ctx, l, 2*cfg.Window)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, reset := l.Allow(keyOf(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := max(time.Until(reset), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func evictLoop(ctx context.Context, l *Limiter, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.Evict(now)
		}
	}
}

// APIKeyOrIP keys requests by the given header when present, falling back
// to the client IP.
func APIKeyOrIP(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return "key:" + v
		}
		return "ip:" + ClientIP(r)
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// host, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
