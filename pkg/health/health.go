// Package health serves liveness and readiness probes.
//
// Every registered check runs on its own ticker. A check flips to unhealthy
// after FailureThreshold consecutive failures and back after
// SuccessThreshold consecutive successes, so a single slow database ping
// does not pull the instance out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Probe selects the endpoint a check contributes to.
type Probe int

const (
	// Liveness checks back /livez.
	Liveness Probe = iota
	// Readiness checks back /readyz.
	Readiness
)

func (p Probe) String() string {
	if p == Liveness {
		return "liveness"
	}
	return "readiness"
}

// CheckOption customizes a single check.
type CheckOption func(*check)

// WithThresholds overrides the default 3 failures / 1 success thresholds.
func WithThresholds(failures, successes int) CheckOption {
	return func(c *check) {
		if failures > 0 {
			c.failureThreshold = failures
		}
		if successes > 0 {
			c.successThreshold = successes
		}
	}
}

// StartUnhealthy makes the check report unhealthy until it first passes.
func StartUnhealthy() CheckOption {
	return func(c *check) { c.healthy.Store(false) }
}

type check struct {
	name             string
	probe            Probe
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Owned by the goroutine calling run.
	fails int
	oks   int
}

func (c *check) isHealthy() bool { return c.healthy.Load() }

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// run executes the check once and reports whether its health flipped.
func (c *check) run(ctx context.Context) (changed bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)

	was := c.healthy.Load()
	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy.Store(false)
		}
	} else {
		c.fails = 0
		c.oks++
		if c.oks >= c.successThreshold {
			c.healthy.Store(true)
		}
	}
	return was != c.healthy.Load()
}

// Health holds the registered checks and the manual readiness flag.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Health that starts not ready. A nil logger disables
// transition logging.
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// Add registers a check for probe. Checks start healthy unless
// StartUnhealthy is given.
func (h *Health) Add(probe Probe, name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	c := &check{
		name:             name,
		probe:            probe,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	c.healthy.Store(true)
	for _, o := range opts {
		o(c)
	}

	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// AddLivenessCheck registers a liveness check.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.Add(Liveness, name, timeout, fn, opts...)
}

// AddReadinessCheck registers a readiness check.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.Add(Readiness, name, timeout, fn, opts...)
}

// Start runs every registered check at interval until Stop or ctx ends.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	checks := append([]*check(nil), h.checks...)
	h.mu.Unlock()

	for _, c := range checks {
		go h.loop(ctx, c, interval)
	}
}

func (h *Health) loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if c.run(ctx) {
			h.logTransition(c)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Health) logTransition(c *check) {
	fields := []zap.Field{
		zap.String("check", c.name),
		zap.Stringer("probe", c.probe),
	}
	if c.isHealthy() {
		h.lg.Info("Health check recovered", fields...)
		return
	}
	h.lg.Warn("Health check failing", append(fields, zap.Error(c.lastError()))...)
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady sets the manual readiness flag. The server marks itself ready
// after startup and not ready when shutdown begins.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the instance is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

// failures maps each unhealthy check of probe to its last error.
func (h *Health) failures(probe Probe) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range h.checks {
		if c.probe != probe || c.isHealthy() {
			continue
		}
		msg := "unhealthy"
		if err := c.lastError(); err != nil {
			msg = err.Error()
		}
		out[c.name] = msg
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeReport(w, failures)
}

// writeReport writes {"status":"ok"} or a 503 with
// {"status":"unhealthy","checks":{name: error}}.
func writeReport(w http.ResponseWriter, failures map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.ObjStart()
	e.FieldStart("status")
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")

		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
