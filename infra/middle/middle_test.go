package middle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter(t *testing.T) {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     2,
		window:   time.Second,
	}

	clientIP := "192.168.1.1"

	assert.True(t, rl.Allow(clientIP), "first request should be allowed")
	assert.True(t, rl.Allow(clientIP), "second request should be allowed")
	assert.False(t, rl.Allow(clientIP), "third request should be blocked")
	assert.True(t, rl.Allow("192.168.1.2"), "other clients are independent")

	time.Sleep(time.Second + 100*time.Millisecond)
	assert.True(t, rl.Allow(clientIP), "request after window should be allowed")
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 0, 0)
	assert.Equal(t, 100, rl.rate)
	assert.Equal(t, time.Minute, rl.window)
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     1,
		window:   time.Second,
	}
	handler := RateLimitMiddleware(rl)(okHandler())

	req1 := httptest.NewRequest(http.MethodGet, "/test", nil)
	req1.RemoteAddr = "192.168.1.1:12345"
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req1)
	assert.Equal(t, http.StatusOK, rr1.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/test", nil)
	req2.RemoteAddr = "192.168.1.1:12346"
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rr2.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{name: "forwarded_for_first", headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, remote: "1.1.1.1:1", expected: "10.0.0.1"},
		{name: "real_ip", headers: map[string]string{"X-Real-IP": " 10.0.0.3 "}, remote: "1.1.1.1:1", expected: "10.0.0.3"},
		{name: "remote_addr", remote: "192.168.1.5:4444", expected: "192.168.1.5"},
		{name: "ipv6_loopback", remote: "[::1]:4444", expected: "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, GetClientIP(req))
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := SecurityHeadersMiddleware()(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rr.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))
}

func TestIPWhitelistMiddleware(t *testing.T) {
	handler := IPWhitelistMiddleware([]string{"127.0.0.1", " 192.168.1.100 "})(okHandler())

	tests := []struct {
		name           string
		clientIP       string
		expectedStatus int
	}{
		{name: "Whitelisted IP", clientIP: "127.0.0.1", expectedStatus: http.StatusOK},
		{name: "Another whitelisted IP", clientIP: "192.168.1.100", expectedStatus: http.StatusOK},
		{name: "Non-whitelisted IP", clientIP: "192.168.1.99", expectedStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.RemoteAddr = tt.clientIP + ":12345"

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestIPWhitelistMiddleware_EmptyAllowsAll(t *testing.T) {
	handler := IPWhitelistMiddleware(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "8.8.8.8:1"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestValidationMiddleware(t *testing.T) {
	handler := RequestValidationMiddleware()(okHandler())

	tests := []struct {
		name           string
		method         string
		path           string
		contentType    string
		contentLength  int64
		expectedStatus int
	}{
		{name: "Valid JSON POST", method: http.MethodPost, path: "/v1/orders/1/payments", contentType: "application/json", contentLength: 100, expectedStatus: http.StatusOK},
		{name: "Form POST to API", method: http.MethodPost, path: "/v1/orders/1/payments", contentType: "application/x-www-form-urlencoded", contentLength: 100, expectedStatus: http.StatusUnsupportedMediaType},
		{name: "Form POST to webhook", method: http.MethodPost, path: "/webhooks/paymob", contentType: "application/x-www-form-urlencoded", contentLength: 100, expectedStatus: http.StatusOK},
		{name: "Plain text to callback", method: http.MethodPost, path: "/callback/kashier", contentType: "text/plain", contentLength: 100, expectedStatus: http.StatusUnsupportedMediaType},
		{name: "GET without content type", method: http.MethodGet, path: "/health", expectedStatus: http.StatusOK},
		{name: "Request too large", method: http.MethodPost, path: "/webhooks/kashier", contentType: "application/json", contentLength: 2 * 1024 * 1024, expectedStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			req.ContentLength = tt.contentLength

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}
