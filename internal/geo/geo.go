// Package geo resolves US ZIP codes to a city, state and coordinates.
package geo

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

var (
	// ErrInvalidZip is returned for anything other than five digits.
	ErrInvalidZip = errors.New("invalid ZIP code")
	// ErrNotFound is returned when no provider knows the ZIP code.
	ErrNotFound = errors.New("ZIP code not found")
)

// Location is a resolved ZIP code.
type Location struct {
	Zip    string  `json:"zip"`
	City   string  `json:"city"`
	State  string  `json:"state"`
	Lat    float64 `json:"latitude"`
	Lng    float64 `json:"longitude"`
	Source string  `json:"source"`
}

// Provider looks up a single ZIP code.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, zip string) (*Location, error)
}

// ValidZip reports whether zip is exactly five ASCII digits.
func ValidZip(zip string) bool {
	if len(zip) != 5 {
		return false
	}
	for i := range len(zip) {
		if zip[i] < '0' || zip[i] > '9' {
			return false
		}
	}
	return true
}

// Resolver tries providers in order and remembers successful lookups.
type Resolver struct {
	providers []Provider
	lg        *zap.Logger

	mu   sync.RWMutex
	memo map[string]Location
}

// NewResolver creates a Resolver over the given providers.
func NewResolver(lg *zap.Logger, providers ...Provider) *Resolver {
	return &Resolver{
		providers: providers,
		lg:        lg,
		memo:      make(map[string]Location),
	}
}

// Lookup resolves zip through the provider chain. Provider failures fall
// through to the next provider.
func (r *Resolver) Lookup(ctx context.Context, zip string) (*Location, error) {
	if !ValidZip(zip) {
		return nil, ErrInvalidZip
	}

	r.mu.RLock()
	loc, ok := r.memo[zip]
	r.mu.RUnlock()
	if ok {
		return &loc, nil
	}

	for _, p := range r.providers {
		found, err := p.Lookup(ctx, zip)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				r.lg.Debug("ZIP provider failed",
					zap.String("provider", p.Name()),
					zap.String("zip", zip),
					zap.Error(err),
				)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		found.Zip = zip
		found.Source = p.Name()

		r.mu.Lock()
		r.memo[zip] = *found
		r.mu.Unlock()
		return found, nil
	}
	return nil, ErrNotFound
}
