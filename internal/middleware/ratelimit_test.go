package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func limitedHandler(rl *RateLimiter) http.Handler {
	return rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(handler http.Handler, remoteAddr string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	handler := limitedHandler(NewRateLimiter(60))

	// 60/min gives a burst of 6.
	for i := 0; i < 6; i++ {
		assert.Equal(t, http.StatusOK, hit(handler, "10.0.0.1:1234", nil), "request %d", i)
	}
}

func TestRateLimiter_BlocksBeyondBurst(t *testing.T) {
	handler := limitedHandler(NewRateLimiter(60))

	for i := 0; i < 6; i++ {
		hit(handler, "10.0.0.1:1234", nil)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "10.0.0.1:1234", nil))
}

func TestRateLimiter_IsolatesClients(t *testing.T) {
	handler := limitedHandler(NewRateLimiter(60))

	for i := 0; i < 7; i++ {
		hit(handler, "10.0.0.1:1234", nil)
	}
	// A different IP gets its own bucket.
	assert.Equal(t, http.StatusOK, hit(handler, "10.0.0.2:1234", nil))
}

func TestRateLimiter_UsesForwardedForWhenPresent(t *testing.T) {
	handler := limitedHandler(NewRateLimiter(60))

	headers := map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}
	for i := 0; i < 7; i++ {
		hit(handler, "10.0.0.1:1234", headers)
	}

	// Same proxy, different original client.
	assert.Equal(t, http.StatusOK, hit(handler, "10.0.0.1:1234",
		map[string]string{"X-Forwarded-For": "203.0.113.10"}))
	// Same original client is still limited.
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "10.0.0.9:9999", headers))
}

func TestRateLimiter_CleanupDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(60)
	handler := limitedHandler(rl)

	// Never consumed: still at full burst, eligible for cleanup.
	rl.getLimiter("10.0.0.1")
	// Recently consumed: below burst, must survive.
	hit(handler, "10.0.0.2:1234", nil)

	rl.Cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.NotContains(t, rl.limiters, "10.0.0.1")
	assert.Contains(t, rl.limiters, "10.0.0.2")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "10.0.0.1:1234", nil, "10.0.0.1"},
		{"forwarded single", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "203.0.113.9"},
		{"forwarded chain", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "203.0.113.9"},
		{"real ip", "10.0.0.1:1234", map[string]string{"X-Real-IP": "203.0.113.7"}, "203.0.113.7"},
		{"no port", "10.0.0.5", nil, "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
