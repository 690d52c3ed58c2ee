package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hitFrom(h http.Handler, remote string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/quotes", nil)
	req.RemoteAddr = remote
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Add(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func mustProxies(t *testing.T, specs ...string) []netip.Prefix {
	t.Helper()
	p, err := ParseProxies(specs)
	require.NoError(t, err)
	return p
}

// --- Tests ---

func TestLimiterHit_SlidingWindow(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 4, Window: time.Minute})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 4 {
		d := l.hit("a", start.Add(time.Duration(i)*time.Second))
		require.True(t, d.allowed, "hit %d", i)
		assert.Equal(t, 3-i, d.remaining)
	}
	assert.False(t, l.hit("a", start.Add(5*time.Second)).allowed)

	// Half a window later the previous four count as two.
	mid := start.Add(90 * time.Second)
	d := l.hit("a", mid)
	require.True(t, d.allowed)
	assert.Equal(t, 1, d.remaining)
	assert.True(t, l.hit("a", mid).allowed)
	assert.False(t, l.hit("a", mid).allowed)

	// Two idle windows forget everything.
	d = l.hit("a", start.Add(5*time.Minute))
	require.True(t, d.allowed)
	assert.Equal(t, 3, d.remaining)
}

func TestLimiterEvict(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()
	l.hit("old", now.Add(-3*time.Minute))
	l.hit("fresh", now)

	l.evict(now)
	assert.NotContains(t, l.clients, "old")
	assert.Contains(t, l.clients, "fresh")
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for range 2 {
		w := hitFrom(h, "10.0.0.1:9999")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := hitFrom(h, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])

	assert.Equal(t, http.StatusOK, hitFrom(h, "10.0.0.2:1234").Code, "other clients are independent")
}

func TestRateLimit_SpoofedForwardedForIgnored(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	require.Equal(t, http.StatusOK, hitFrom(h, "198.51.100.7:1", "X-Forwarded-For", "203.0.113.1").Code)
	assert.Equal(t, http.StatusTooManyRequests,
		hitFrom(h, "198.51.100.7:2", "X-Forwarded-For", "203.0.113.2").Code)
}

func TestRateLimit_BehindTrustedProxy(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:            1,
		Window:         time.Minute,
		TrustedProxies: mustProxies(t, "10.0.0.0/8"),
	})(okHandler())

	require.Equal(t, http.StatusOK, hitFrom(h, "10.1.1.1:1", "X-Forwarded-For", "203.0.113.50").Code)
	assert.Equal(t, http.StatusOK, hitFrom(h, "10.1.1.1:1", "X-Forwarded-For", "203.0.113.51").Code)
	assert.Equal(t, http.StatusTooManyRequests,
		hitFrom(h, "10.2.2.2:1", "X-Forwarded-For", "203.0.113.50").Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: func(r *http.Request) string { return r.Header.Get("X-API-Key") },
	})(okHandler())

	assert.Equal(t, http.StatusOK, hitFrom(h, "10.0.0.1:1", "X-API-Key", "key-a").Code)
	assert.Equal(t, http.StatusTooManyRequests, hitFrom(h, "10.0.0.2:1", "X-API-Key", "key-a").Code)
	assert.Equal(t, http.StatusOK, hitFrom(h, "10.0.0.1:1", "X-API-Key", "key-b").Code)
}

func TestRateLimit_SkipAndMessage(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		Skip:    func(r *http.Request) bool { return r.URL.Path == "/livez" },
		Message: "too many quote requests",
	})(okHandler())

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/livez", nil)
		req.RemoteAddr = "10.0.0.9:1"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}

	require.Equal(t, http.StatusOK, hitFrom(h, "10.0.0.9:1").Code)
	w := hitFrom(h, "10.0.0.9:1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "too many quote requests", body["message"])
}

func TestClientKey(t *testing.T) {
	trusted := mustProxies(t, "10.0.0.0/8", "192.0.2.1")
	tests := []struct {
		name   string
		remote string
		header []string
		want   string
	}{
		{"direct peer", "198.51.100.7:4444", nil, "198.51.100.7"},
		{"untrusted peer ignores header", "198.51.100.7:4444", []string{"X-Forwarded-For", "203.0.113.9"}, "198.51.100.7"},
		{"trusted peer", "10.0.0.5:80", []string{"X-Forwarded-For", "203.0.113.9"}, "203.0.113.9"},
		{
			"client spoofs left entry",
			"10.0.0.5:80",
			[]string{"X-Forwarded-For", "1.1.1.1, 203.0.113.9"},
			"203.0.113.9",
		},
		{
			"skips trusted hops",
			"10.0.0.5:80",
			[]string{"X-Forwarded-For", "203.0.113.9, 192.0.2.1", "X-Forwarded-For", "10.9.9.9"},
			"203.0.113.9",
		},
		{"real ip fallback", "10.0.0.5:80", []string{"X-Real-IP", "203.0.113.4"}, "203.0.113.4"},
		{"garbage hop stops walk", "10.0.0.5:80", []string{"X-Forwarded-For", "nonsense"}, "10.0.0.5"},
		{"mapped ipv4", "[::ffff:198.51.100.7]:4444", nil, "198.51.100.7"},
		{"unparseable remote", "pipe", nil, "pipe"},
	}
	key := ClientKey(trusted)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for i := 0; i+1 < len(tt.header); i += 2 {
				req.Header.Add(tt.header[i], tt.header[i+1])
			}
			assert.Equal(t, tt.want, key(req))
		})
	}
}

func TestParseProxies(t *testing.T) {
	got, err := ParseProxies([]string{"10.1.2.3/8", " 192.0.2.1 ", "", "2001:db8::/32"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "10.0.0.0/8", got[0].String())
	assert.Equal(t, "192.0.2.1/32", got[1].String())
	assert.Equal(t, "2001:db8::/32", got[2].String())

	_, err = ParseProxies([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = ParseProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
