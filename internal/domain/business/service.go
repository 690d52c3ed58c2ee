package business

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// maxSlugAttempts bounds the numeric suffixes tried for a taken slug.
const maxSlugAttempts = 50

// Invalidator is notified when listings change.
type Invalidator interface {
	Invalidate()
}

// Service encapsulates listing administration.
type Service struct {
	repo  Repository
	cache Invalidator
	now   func() time.Time
}

// NewService creates a business Service.
func NewService(repo Repository, cache Invalidator) *Service {
	return &Service{repo: repo, cache: cache, now: time.Now}
}

// Create normalizes, validates and stores a new listing. A taken slug gets a
// numeric suffix.
func (s *Service) Create(ctx context.Context, b *Business) error {
	b.Normalize()
	if err := b.Validate(); err != nil {
		return err
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := s.now()
	b.CreatedAt, b.UpdatedAt = now, now

	base := b.Slug
	for i := 1; i <= maxSlugAttempts; i++ {
		if i > 1 {
			b.Slug = base + "-" + strconv.Itoa(i)
		}
		err := s.repo.Create(ctx, b)
		if err == nil {
			s.cache.Invalidate()
			return nil
		}
		if !errors.Is(err, ErrSlugTaken) {
			return fmt.Errorf("create business: %w", err)
		}
	}
	return ErrSlugTaken
}

// Update applies p to the listing with the given ID.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Business, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Apply(b)
	b.Normalize()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("update business: %w", err)
	}
	s.cache.Invalidate()
	return b, nil
}

// Delete removes a listing.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate()
	return nil
}
