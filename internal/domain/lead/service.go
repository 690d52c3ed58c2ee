package lead

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/domain/quote"
)

// BusinessReader fetches a listing by ID.
type BusinessReader interface {
	Get(ctx context.Context, id string) (*business.Business, error)
}

// QuoteReader fetches a quote by ID.
type QuoteReader interface {
	Get(ctx context.Context, id string) (*quote.Quote, error)
}

// Service implements the dealer lead inbox.
type Service struct {
	leads      Repository
	businesses BusinessReader
	quotes     QuoteReader
	lg         *zap.Logger
	reveals    metric.Int64Counter
}

// NewService creates a lead Service.
func NewService(leads Repository, businesses BusinessReader, quotes QuoteReader, lg *zap.Logger, meter metric.Meter) (*Service, error) {
	reveals, err := meter.Int64Counter("directory.leads.reveals",
		metric.WithDescription("Lead reveal attempts by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reveal counter: %w", err)
	}
	return &Service{
		leads:      leads,
		businesses: businesses,
		quotes:     quotes,
		lg:         lg,
		reveals:    reveals,
	}, nil
}

// Inbox lists leads visible to the business, masked unless revealed.
func (s *Service) Inbox(ctx context.Context, businessID string, f InboxFilter) ([]Lead, error) {
	b, err := s.businesses.Get(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}

	leads, err := s.leads.Inbox(ctx, b, f)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	for i := range leads {
		leads[i] = leads[i].Masked()
	}
	return leads, nil
}

// Reveal unlocks the contact details of a lead for the business, spending
// RevealCost credits unless it was revealed before.
func (s *Service) Reveal(ctx context.Context, businessID, quoteID string) (*RevealResult, error) {
	b, err := s.businesses.Get(ctx, businessID)
	if err != nil {
		return nil, err
	}
	q, err := s.quotes.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if !Visible(b, q) {
		s.record(ctx, "not_visible")
		return nil, ErrNotVisible
	}

	charged, remaining, err := s.leads.Reveal(ctx, businessID, quoteID, RevealCost)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			s.record(ctx, "insufficient_credits")
			return nil, err
		}
		return nil, fmt.Errorf("reveal lead: %w", err)
	}

	if charged {
		s.record(ctx, "charged")
		s.lg.Info("Lead revealed",
			zap.String("business_id", businessID),
			zap.String("quote_id", quoteID),
			zap.Int("credits_remaining", remaining),
		)
	} else {
		s.record(ctx, "already_revealed")
	}

	return &RevealResult{
		Lead:             Lead{Quote: *q, Revealed: true},
		Charged:          charged,
		CreditsRemaining: remaining,
	}, nil
}

// Grant adds credits to a business and returns the new balance.
func (s *Service) Grant(ctx context.Context, businessID string, credits int, reason string) (int, error) {
	if credits <= 0 {
		return 0, ErrInvalidCredits
	}
	if reason == "" {
		reason = "admin grant"
	}
	balance, err := s.leads.Grant(ctx, businessID, credits, reason)
	if err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	return balance, nil
}

func (s *Service) record(ctx context.Context, result string) {
	s.reveals.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
