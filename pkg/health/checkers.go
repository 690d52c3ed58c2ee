package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// LoadedAter reports when a cached dataset was last rebuilt.
type LoadedAter interface {
	LoadedAt() (time.Time, bool)
}

// FreshnessCheck fails when src has never loaded or its data is older than
// maxAge. A nil now uses time.Now.
func FreshnessCheck(src LoadedAter, maxAge time.Duration, now func() time.Time) CheckFunc {
	if now == nil {
		now = time.Now
	}
	return func(context.Context) error {
		at, ok := src.LoadedAt()
		if !ok {
			return errors.New("not loaded")
		}
		if age := now().Sub(at); age > maxAge {
			return errors.Errorf("data is %s old, limit %s", age.Truncate(time.Second), maxAge)
		}
		return nil
	}
}

// GoroutineCountCheck fails when the goroutine count exceeds threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
