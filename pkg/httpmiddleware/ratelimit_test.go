package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func get(h http.Handler, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) (code int, msg string) {
	t.Helper()
	d := jx.DecodeBytes(w.Body.Bytes())
	require.NoError(t, d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "code":
			v, err := d.Int()
			code = v
			return err
		case "message":
			v, err := d.Str()
			msg = v
			return err
		default:
			return d.Skip()
		}
	}))
	return code, msg
}

func TestRateLimit_UnderLimit(t *testing.T) {
	h := RateLimit(t.Context(), RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

	for i := range 5 {
		w := get(h, nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(t.Context(), RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, get(h, nil).Code)
	}

	w := get(h, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	code, msg := decodeError(t, w)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", msg)
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(t.Context(), RateLimitConfig{})(okHandler())
	for range 10 {
		w := get(h, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimit_Keys(t *testing.T) {
	tests := []struct {
		name    string
		keyFunc func(*http.Request) string
		first   func(*http.Request)
		same    func(*http.Request)
		other   func(*http.Request)
	}{
		{
			name:  "RemoteAddr",
			first: func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1234" },
			same:  func(r *http.Request) { r.RemoteAddr = "10.0.0.1:5678" },
			other: func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1234" },
		},
		{
			name:  "XForwardedFor",
			first: func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18") },
			same: func(r *http.Request) {
				r.RemoteAddr = "192.168.1.2:5555"
				r.Header.Set("X-Forwarded-For", "203.0.113.50")
			},
			other: func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.51") },
		},
		{
			name:    "APIKey",
			keyFunc: APIKeyOrIP("api_key"),
			first:   func(r *http.Request) { r.Header.Set("api_key", "key-a") },
			same: func(r *http.Request) {
				r.RemoteAddr = "10.9.9.9:1"
				r.Header.Set("api_key", "key-a")
			},
			other: func(r *http.Request) { r.Header.Set("api_key", "key-b") },
		},
		{
			name:    "APIKeyFallsBackToIP",
			keyFunc: APIKeyOrIP("api_key"),
			first:   func(r *http.Request) {},
			same:    func(r *http.Request) {},
			other:   func(r *http.Request) { r.Header.Set("api_key", "key-a") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(t.Context(), RateLimitConfig{Max: 1, Window: time.Minute, KeyFunc: tt.keyFunc})(okHandler())

			assert.Equal(t, http.StatusOK, get(h, tt.first).Code)
			assert.Equal(t, http.StatusTooManyRequests, get(h, tt.same).Code)
			assert.Equal(t, http.StatusOK, get(h, tt.other).Code)
		})
	}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l := NewLimiter(4, time.Minute)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for range 4 {
		ok, _, _ := l.Allow("k", base.Add(50*time.Second))
		require.True(t, ok)
	}
	ok, remaining, reset := l.Allow("k", base.Add(55*time.Second))
	assert.False(t, ok)
	assert.Zero(t, remaining)
	assert.Equal(t, base.Add(time.Minute), reset)

	// Just after the boundary the previous window still weighs 59/60 of 4.
	ok, _, _ = l.Allow("k", base.Add(61*time.Second))
	assert.True(t, ok)
	ok, _, _ = l.Allow("k", base.Add(61*time.Second))
	assert.False(t, ok)

	// Halfway through, half of the previous window has slid out.
	ok, _, _ = l.Allow("k", base.Add(90*time.Second))
	assert.True(t, ok)
	ok, _, _ = l.Allow("k", base.Add(90*time.Second))
	assert.False(t, ok)

	// Two windows later the key starts fresh.
	ok, remaining, _ = l.Allow("k", base.Add(3*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 3, remaining)
}

func TestLimiter_Evict(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	l.Allow("old", base)
	l.Allow("new", base.Add(2*time.Minute))
	require.Equal(t, 2, l.Len())

	l.Evict(base.Add(2*time.Minute + time.Second))
	assert.Equal(t, 1, l.Len())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{name: "RemoteAddr", remote: "10.0.0.1:80", want: "10.0.0.1"},
		{name: "NoPort", remote: "10.0.0.1", want: "10.0.0.1"},
		{name: "RealIP", remote: "10.0.0.1:80", header: map[string]string{"X-Real-IP": "1.2.3.4"}, want: "1.2.3.4"},
		{
			name:   "ForwardedWins",
			remote: "10.0.0.1:80",
			header: map[string]string{"X-Real-IP": "1.2.3.4", "X-Forwarded-For": " 5.6.7.8 , 1.1.1.1"},
			want:   "5.6.7.8",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
