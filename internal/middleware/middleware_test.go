package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSMiddleware_PreflightReturns200WithoutBody(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := CORSMiddleware("*", "POST, GET, OPTIONS", "Content-Type")(next)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/verify_ampos_license.php", http.NoBody)
	req.Header.Set("Origin", "https://shop.example.com")
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.False(t, called)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSMiddleware_SpecificOrigins(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := CORSMiddleware("https://a.example.com, https://b.example.com", "POST", "Content-Type")(next)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.Header.Set("Origin", "https://b.example.com")
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://b.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.Header.Set("Origin", "https://evil.example.com")
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"192.0.2.4:1234", "192.0.2.4", true},
		{"192.0.2.4", "192.0.2.4", true},
		{"[2001:db8::1]:443", "2001:db8::1", true},
		{"2001:db8::1", "2001:db8::1", true},
		{"[::ffff:192.0.2.4]:80", "192.0.2.4", true},
		{"", "", false},
		{"not-an-ip", "not-an-ip", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeIP(tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
		assert.Equal(t, tt.wantOK, ok, tt.raw)
	}
}

func TestClientIPMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = GetClientIP(r) })

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	ClientIPMiddleware(false)(next).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "10.0.0.1", seen, "forwarding headers ignored without a trusted proxy")

	ClientIPMiddleware(true)(next).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.7", seen)
}
