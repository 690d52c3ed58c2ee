package quote

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/geo"
)

// Actor identifies who is changing a quote.
type Actor int

const (
	ActorDealer Actor = iota
	ActorAdmin
)

// SubmitRequest is the customer-facing quote form.
type SubmitRequest struct {
	BusinessID   string `json:"business_id"`
	Name         string `json:"name" validate:"required,max=120"`
	Email        string `json:"email" validate:"omitempty,email,max=254"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	Zip          string `json:"zip" validate:"required,numeric,len=5"`
	DumpsterSize string `json:"dumpster_size" validate:"max=50"`
	ProjectType  string `json:"project_type" validate:"max=80"`
	StartDate    string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	Message      string `json:"message" validate:"max=2000"`
	Source       string `json:"source" validate:"max=40"`
	// Honeypot is a hidden form field; bots fill it, people do not.
	Honeypot string `json:"company_website"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Locator resolves a ZIP code to a locality.
type Locator interface {
	Lookup(ctx context.Context, zip string) (*geo.Location, error)
}

// BusinessReader fetches a listing by ID.
type BusinessReader interface {
	Get(ctx context.Context, id string) (*business.Business, error)
}

// Service handles quote intake and status changes.
type Service struct {
	quotes     Repository
	businesses BusinessReader
	locator    Locator
	lg         *zap.Logger
	now        func() time.Time
}

// NewService creates a quote Service.
func NewService(quotes Repository, businesses BusinessReader, locator Locator, lg *zap.Logger) *Service {
	return &Service{
		quotes:     quotes,
		businesses: businesses,
		locator:    locator,
		lg:         lg,
		now:        time.Now,
	}
}

// Submit validates and stores a new quote request. Submissions that trip
// the honeypot are stored as spam and otherwise look successful.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Quote, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = business.FormatPhone(req.Phone)
	req.Zip = business.NormalizeZip(req.Zip)

	if err := validate.Struct(req); err != nil {
		return nil, errors.Wrap(err, "validate quote")
	}
	if req.Email == "" && business.NormalizePhone(req.Phone) == "" {
		return nil, ErrContactRequired
	}

	q := &Quote{
		ID:           uuid.New().String(),
		BusinessID:   strings.TrimSpace(req.BusinessID),
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Zip:          req.Zip,
		DumpsterSize: strings.TrimSpace(req.DumpsterSize),
		ProjectType:  strings.TrimSpace(req.ProjectType),
		Message:      strings.TrimSpace(req.Message),
		Status:       StatusNew,
		Source:       req.Source,
		CreatedAt:    s.now(),
	}
	if q.Source == "" {
		q.Source = "web"
	}
	if req.StartDate != "" {
		d, err := time.Parse(time.DateOnly, req.StartDate)
		if err != nil {
			return nil, errors.Wrap(err, "parse start date")
		}
		q.StartDate = &d
	}
	if req.Honeypot != "" {
		q.Status = StatusSpam
	}

	if q.BusinessID != "" {
		b, err := s.businesses.Get(ctx, q.BusinessID)
		if err != nil {
			if errors.Is(err, business.ErrNotFound) {
				return nil, ErrBusinessNotFound
			}
			return nil, errors.Wrap(err, "get target business")
		}
		q.City, q.State = b.City, b.State
	}

	// Locality drives lead routing for unassigned quotes; a failed lookup
	// only degrades routing, so the quote is still accepted.
	if loc, err := s.locator.Lookup(ctx, q.Zip); err == nil {
		q.City, q.State = loc.City, loc.State
	} else if q.State == "" {
		s.lg.Warn("ZIP lookup failed for quote", zap.String("zip", q.Zip), zap.Error(err))
	}

	if err := s.quotes.Create(ctx, q); err != nil {
		return nil, errors.Wrap(err, "create quote")
	}
	return q, nil
}

// Get returns a single quote.
func (s *Service) Get(ctx context.Context, id string) (*Quote, error) {
	return s.quotes.Get(ctx, id)
}

// List returns quotes matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]Quote, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.quotes.List(ctx, f)
}

// UpdateStatus changes the status of a quote. Won, lost and spam quotes are
// final for dealers; admins may set any status.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, actor Actor) (*Quote, error) {
	if !to.Valid() {
		return nil, errors.Errorf("unknown status %q", to)
	}

	q, err := s.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(q.Status, to, actor); err != nil {
		return nil, err
	}

	if err := s.quotes.UpdateStatus(ctx, id, to); err != nil {
		return nil, errors.Wrap(err, "update quote status")
	}
	q.Status = to
	return q, nil
}

// CheckTransition validates a status change for the given actor.
func CheckTransition(from, to Status, actor Actor) error {
	if actor == ActorAdmin || from == to {
		return nil
	}
	if from.Terminal() {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
