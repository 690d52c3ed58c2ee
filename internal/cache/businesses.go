// Package cache keeps an in-memory, read-mostly copy of the business
// directory.
//
// A Businesses cache is constructed explicitly and injected where needed. It
// holds an immutable Snapshot that is replaced wholesale on reload:
//
//   - the first read loads synchronously;
//   - a background ticker started with Start reloads every RefreshInterval;
//   - Invalidate marks the snapshot stale, so the next read reloads, and
//     schedules a reload in the background;
//   - concurrent reloads collapse into one loader call (single-flight).
//
// A failed reload keeps serving the previous snapshot. Reads never observe a
// partially built snapshot.
package cache

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/dumpster-directory/internal/domain/business"
)

// Loader returns the full set of listings.
type Loader interface {
	List(ctx context.Context) ([]business.Business, error)
}

// Config controls refresh timing.
type Config struct {
	// RefreshInterval is the period of background reloads started by Start.
	RefreshInterval time.Duration
	// MaxStale forces a synchronous reload on read once the snapshot is
	// older than this. Zero disables the check.
	MaxStale time.Duration
}

// Option customizes a Businesses cache.
type Option func(*Businesses)

// WithLogger sets the logger used for reload failures.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Businesses) { c.lg = lg }
}

// WithMeterProvider sets the meter provider for cache metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Businesses) { c.mp = mp }
}

// WithTracerProvider sets the tracer provider for reload spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Businesses) { c.tp = tp }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Businesses) { c.now = now }
}

// Businesses is the directory cache.
type Businesses struct {
	loader Loader
	cfg    Config
	now    func() time.Time
	lg     *zap.Logger
	mp     metric.MeterProvider
	tp     trace.TracerProvider

	tracer    trace.Tracer
	refreshes metric.Int64Counter

	group singleflight.Group

	mu   sync.RWMutex
	snap *Snapshot
	gen  uint64 // bumped by Invalidate
	base context.Context
}

// New creates a cache backed by loader. Nothing is loaded until the first
// read or Start.
func New(loader Loader, cfg Config, opts ...Option) (*Businesses, error) {
	c := &Businesses{
		loader: loader,
		cfg:    cfg,
		now:    time.Now,
		lg:     zap.NewNop(),
		mp:     otel.GetMeterProvider(),
		tp:     otel.GetTracerProvider(),
		base:   context.Background(),
	}
	for _, o := range opts {
		o(c)
	}

	meter := c.mp.Meter("dumpster-directory/cache")
	c.tracer = c.tp.Tracer("dumpster-directory/cache")

	var err error
	c.refreshes, err = meter.Int64Counter("directory.cache.refreshes",
		metric.WithDescription("Business cache reloads by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create refresh counter")
	}
	if _, err := meter.Int64ObservableGauge("directory.cache.listings",
		metric.WithDescription("Listings held in the current snapshot"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			c.mu.RLock()
			s := c.snap
			c.mu.RUnlock()
			if s != nil {
				o.Observe(int64(s.Len()))
			}
			return nil
		}),
	); err != nil {
		return nil, errors.Wrap(err, "create listings gauge")
	}

	return c, nil
}

// Start loads the directory and reloads it every RefreshInterval until ctx
// is cancelled. An initial load failure is returned; later failures are
// logged.
func (c *Businesses) Start(ctx context.Context) error {
	c.mu.Lock()
	c.base = ctx
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		return errors.Wrap(err, "initial load")
	}
	if c.cfg.RefreshInterval <= 0 {
		return nil
	}

	go func() {
		ticker := time.NewTicker(c.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					c.lg.Warn("Scheduled cache refresh failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Snapshot returns the current snapshot, loading it first if there is none,
// it was invalidated, or it exceeded MaxStale. When a reload fails and an
// older snapshot exists, the older snapshot is returned.
func (c *Businesses) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	s, gen := c.snap, c.gen
	c.mu.RUnlock()

	if s != nil && s.gen == gen && !c.expired(s) {
		return s, nil
	}

	fresh, err := c.load(ctx)
	if err != nil {
		if s != nil {
			c.lg.Warn("Serving stale business cache", zap.Error(err), zap.Time("loaded_at", s.loadedAt))
			return s, nil
		}
		return nil, err
	}
	return fresh, nil
}

// Refresh forces a reload.
func (c *Businesses) Refresh(ctx context.Context) error {
	_, err := c.load(ctx)
	return err
}

// Invalidate marks the current snapshot stale and schedules a background
// reload. Reads after Invalidate returns never see the invalidated snapshot
// unless the reload fails.
func (c *Businesses) Invalidate() {
	c.mu.Lock()
	c.gen++
	base := c.base
	c.mu.Unlock()

	go func() {
		if err := c.Refresh(base); err != nil {
			c.lg.Warn("Cache reload after invalidation failed", zap.Error(err))
		}
	}()
}

// LoadedAt reports when the current snapshot was built. It returns false
// before the first successful load.
func (c *Businesses) LoadedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return time.Time{}, false
	}
	return c.snap.loadedAt, true
}

func (c *Businesses) expired(s *Snapshot) bool {
	return c.cfg.MaxStale > 0 && c.now().Sub(s.loadedAt) >= c.cfg.MaxStale
}

// load runs one reload per generation; concurrent callers share its result.
func (c *Businesses) load(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	// Keyed by generation so a reload started before Invalidate is not
	// shared with callers that must observe the invalidation.
	key := strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.reload(context.WithoutCancel(ctx), gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Businesses) reload(ctx context.Context, gen uint64) (*Snapshot, error) {
	ctx, span := c.tracer.Start(ctx, "cache.reload")
	defer span.End()

	list, err := c.loader.List(ctx)
	if err != nil {
		span.RecordError(err)
		c.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		return nil, errors.Wrap(err, "load businesses")
	}

	s := newSnapshot(list, c.now(), gen)
	span.SetAttributes(attribute.Int("listings", s.Len()))
	c.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))

	c.mu.Lock()
	// Never replace a snapshot with one from an older generation.
	if c.snap == nil || c.snap.gen <= gen {
		c.snap = s
	}
	c.mu.Unlock()
	return s, nil
}

// Snapshot is an immutable view of the directory. Callers must not modify
// the returned listings.
type Snapshot struct {
	items      []business.Business
	byID       map[string]int
	bySlug     map[string]int
	categories []string
	loadedAt   time.Time
	gen        uint64
}

func newSnapshot(items []business.Business, now time.Time, gen uint64) *Snapshot {
	s := &Snapshot{
		items:    items,
		byID:     make(map[string]int, len(items)),
		bySlug:   make(map[string]int, len(items)),
		loadedAt: now,
		gen:      gen,
	}
	seen := make(map[string]bool)
	for i := range items {
		s.byID[items[i].ID] = i
		s.bySlug[items[i].Slug] = i
		if cat := strings.TrimSpace(items[i].Category); cat != "" && !seen[strings.ToLower(cat)] {
			seen[strings.ToLower(cat)] = true
			s.categories = append(s.categories, cat)
		}
	}
	slices.SortFunc(s.categories, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return s
}

// Search filters and ranks the snapshot.
func (s *Snapshot) Search(f business.Filter, now time.Time) ([]business.Result, int) {
	return business.Search(s.items, f, now)
}

// ByID returns the listing with the given ID.
func (s *Snapshot) ByID(id string) (*business.Business, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.items[i], true
}

// BySlug returns the listing with the given slug.
func (s *Snapshot) BySlug(slug string) (*business.Business, bool) {
	i, ok := s.bySlug[slug]
	if !ok {
		return nil, false
	}
	return &s.items[i], true
}

// Categories returns distinct listing categories sorted case-insensitively.
func (s *Snapshot) Categories() []string {
	return slices.Clone(s.categories)
}

// Len returns the number of listings.
func (s *Snapshot) Len() int { return len(s.items) }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }
