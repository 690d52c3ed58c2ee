package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests a client may make per window.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientKey(TrustedProxies).
	KeyFunc func(*http.Request) string
	// TrustedProxies are peers whose X-Forwarded-For entries are believed.
	TrustedProxies []netip.Prefix
	// Skip exempts matching requests from the limit.
	Skip func(*http.Request) bool
	// Message is the 429 response message.
	Message string
}

// window counts hits in the current fixed window and remembers the previous
// one; the limit applies to a weighted blend of both.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// decision is the outcome of one hit.
type decision struct {
	allowed   bool
	remaining int
	reset     time.Time
}

type limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	clients map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey(cfg.TrustedProxies)
	}
	if cfg.Message == "" {
		cfg.Message = "rate limit exceeded"
	}
	return &limiter{cfg: cfg, clients: make(map[string]*window)}
}

// hit records one request for key at now unless the client is over the limit.
func (l *limiter) hit(key string, now time.Time) decision {
	size := l.cfg.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.clients[key]
	if !ok {
		w = &window{start: now}
		l.clients[key] = w
	}
	switch age := now.Sub(w.start); {
	case age >= 2*size:
		// Both windows are stale.
		w.prev, w.curr = 0, 0
		w.start = now.Truncate(size)
	case age >= size:
		w.prev, w.curr = w.curr, 0
		w.start = now.Truncate(size)
	}

	// The previous window counts in proportion to its overlap with the
	// sliding window ending at now.
	overlap := math.Max(0, 1-now.Sub(w.start).Seconds()/size.Seconds())
	used := w.prev*overlap + w.curr
	d := decision{reset: w.start.Add(size)}
	if used >= float64(l.cfg.Max) {
		return d
	}
	w.curr++
	d.allowed = true
	d.remaining = max(0, int(float64(l.cfg.Max)-used-1))
	return d
}

// evict drops clients idle for two full windows.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.clients {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.clients, key)
		}
	}
}

func (l *limiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * l.cfg.Window)
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

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.cfg.Skip != nil && l.cfg.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		key := l.cfg.KeyFunc(r)
		d := l.hit(key, time.Now())

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))
		if !d.allowed {
			wait := max(0, time.Until(d.reset))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			zctx.From(r.Context()).Debug("Rate limited", zap.String("client", key))
			WriteError(w, http.StatusTooManyRequests, l.cfg.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit enforces a per-client sliding window limit. Over the limit it
// answers 429 with a JSON error and Retry-After. Counted responses carry
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
//
// Idle clients are never evicted; use RateLimitWithCleanup for long-lived
// limiters keyed by client address.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine that evicts idle
// clients every two windows until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.evictLoop(ctx)
	return l.middleware
}

// ClientKey returns a KeyFunc yielding the client address. X-Forwarded-For
// is only consulted when the direct peer is a trusted proxy, and then walked
// from the right past any further trusted hops.
func ClientKey(trusted []netip.Prefix) func(*http.Request) string {
	isTrusted := func(a netip.Addr) bool {
		for _, p := range trusted {
			if p.Contains(a) {
				return true
			}
		}
		return false
	}
	return func(r *http.Request) string {
		peer, ok := remoteAddr(r)
		if !ok {
			return r.RemoteAddr
		}
		if !isTrusted(peer) {
			return peer.String()
		}
		hops := forwardedFor(r)
		for i := len(hops) - 1; i >= 0; i-- {
			a, err := netip.ParseAddr(hops[i])
			if err != nil {
				break
			}
			a = a.Unmap()
			if !isTrusted(a) {
				return a.String()
			}
		}
		if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return xri.Unmap().String()
		}
		return peer.String()
	}
}

// ParseProxies reads addresses or CIDR ranges. A bare address trusts only
// itself.
func ParseProxies(specs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(specs))
	for _, s := range specs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, errors.Wrapf(err, "trusted proxy %q", s)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, errors.Wrapf(err, "trusted proxy %q", s)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

// forwardedFor flattens every X-Forwarded-For header, left to right.
func forwardedFor(r *http.Request) []string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}
