package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/dumpster-directory/internal/domain/business"
)

// --- Mock implementations ---

type fakeLoader struct {
	mu    sync.Mutex
	list  []business.Business
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeLoader) List(_ context.Context) ([]business.Business, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]business.Business, len(f.list))
	copy(out, f.list)
	return out, nil
}

func (f *fakeLoader) set(list []business.Business, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = list
	f.err = err
}

// --- Helpers ---

func listing(id, name, category string) business.Business {
	return business.Business{
		ID:       id,
		Slug:     business.Slugify(name),
		Name:     name,
		State:    "TX",
		Category: category,
	}
}

func newCache(t *testing.T, loader Loader, cfg Config, opts ...Option) *Businesses {
	t.Helper()
	c, err := New(loader, cfg, opts...)
	require.NoError(t, err)
	return c
}

// --- Tests ---

func TestSnapshot_LoadsOnFirstRead(t *testing.T) {
	loader := &fakeLoader{list: []business.Business{
		listing("1", "Alpha Bins", "Dumpster Rental"),
		listing("2", "Bravo Waste", "junk removal"),
		listing("3", "Charlie Rolloff", "dumpster rental"),
	}}
	c := newCache(t, loader, Config{})

	s, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, int32(1), loader.calls.Load())

	b, ok := s.ByID("2")
	require.True(t, ok)
	assert.Equal(t, "Bravo Waste", b.Name)

	b, ok = s.BySlug("charlie-rolloff")
	require.True(t, ok)
	assert.Equal(t, "3", b.ID)

	_, ok = s.ByID("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"Dumpster Rental", "junk removal"}, s.Categories())

	// Second read is served from memory.
	_, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestSnapshot_ConcurrentReadsShareOneLoad(t *testing.T) {
	loader := &fakeLoader{
		list: []business.Business{listing("1", "Alpha", "")},
		gate: make(chan struct{}),
	}
	c := newCache(t, loader, Config{})

	const readers = 16
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Snapshot(context.Background())
			errs <- err
		}()
	}

	// Let every reader reach the single-flight group before releasing.
	require.Eventually(t, func() bool { return loader.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(loader.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestInvalidate_NextReadSeesNewData(t *testing.T) {
	loader := &fakeLoader{list: []business.Business{listing("1", "Alpha", "")}}
	c := newCache(t, loader, Config{})

	s, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	loader.set([]business.Business{listing("1", "Alpha", ""), listing("2", "Bravo", "")}, nil)
	c.Invalidate()

	s, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestSnapshot_FailedReloadKeepsPrevious(t *testing.T) {
	loader := &fakeLoader{list: []business.Business{listing("1", "Alpha", "")}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newCache(t, loader, Config{MaxStale: time.Minute}, WithClock(func() time.Time { return now }))

	first, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	loader.set(nil, errors.New("db down"))
	now = now.Add(2 * time.Minute)

	s, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, s)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestSnapshot_ErrorWithoutPrevious(t *testing.T) {
	loader := &fakeLoader{err: errors.New("db down")}
	c := newCache(t, loader, Config{})

	_, err := c.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestSnapshot_MaxStaleForcesReload(t *testing.T) {
	loader := &fakeLoader{list: []business.Business{listing("1", "Alpha", "")}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newCache(t, loader, Config{MaxStale: 5 * time.Minute}, WithClock(func() time.Time { return now }))

	_, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	now = now.Add(4 * time.Minute)
	_, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.calls.Load())

	now = now.Add(2 * time.Minute)
	s, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
	assert.Equal(t, now, s.LoadedAt())
}

func TestStart_InitialLoadAndStop(t *testing.T) {
	loader := &fakeLoader{list: []business.Business{listing("1", "Alpha", "")}}
	c := newCache(t, loader, Config{RefreshInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))

	require.Eventually(t, func() bool { return loader.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
}

func TestStart_InitialLoadError(t *testing.T) {
	loader := &fakeLoader{err: errors.New("boom")}
	c := newCache(t, loader, Config{RefreshInterval: time.Hour})

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial load")
}

func TestSnapshot_Search(t *testing.T) {
	a := listing("1", "Alpha Bins", "Dumpster Rental")
	a.Rating = 3
	b := listing("2", "Bravo Bins", "Dumpster Rental")
	b.Rating = 5
	loader := &fakeLoader{list: []business.Business{a, b}}
	c := newCache(t, loader, Config{})

	s, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	res, total := s.Search(business.Filter{Query: "bins"}, time.Now())
	require.Equal(t, 2, total)
	assert.Equal(t, "2", res[0].Business.ID)
}

func TestLoadedAt(t *testing.T) {
	loaded := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newCache(t, &fakeLoader{}, Config{}, WithClock(func() time.Time { return loaded }))

	_, ok := c.LoadedAt()
	assert.False(t, ok)

	require.NoError(t, c.Refresh(context.Background()))
	at, ok := c.LoadedAt()
	require.True(t, ok)
	assert.Equal(t, loaded, at)
}
