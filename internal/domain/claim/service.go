package claim

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/domain/business"
)

const (
	defaultTokenTTL    = 30 * 24 * time.Hour
	defaultTargetLimit = 500
)

// Config controls invitation links.
type Config struct {
	// BaseURL is prefixed to "/claim/<token>" in invitation links.
	BaseURL  string
	TokenTTL time.Duration
}

// Invalidator is notified when a listing changes hands.
type Invalidator interface {
	Invalidate()
}

// OwnerLookup finds the listing a user already owns.
type OwnerLookup interface {
	Get(ctx context.Context, id string) (*business.Business, error)
	GetByOwner(ctx context.Context, ownerID string) (*business.Business, error)
}

// Service runs claim campaigns.
type Service struct {
	repo       Repository
	businesses OwnerLookup
	mailer     Mailer
	cache      Invalidator
	cfg        Config
	lg         *zap.Logger
	now        func() time.Time
}

// NewService creates a claim Service.
func NewService(repo Repository, businesses OwnerLookup, mailer Mailer, cache Invalidator, cfg Config, lg *zap.Logger) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Service{
		repo:       repo,
		businesses: businesses,
		mailer:     mailer,
		cache:      cache,
		cfg:        cfg,
		lg:         lg,
		now:        time.Now,
	}
}

// CreateCampaign selects target businesses and creates one invitation per
// business.
func (s *Service) CreateCampaign(ctx context.Context, name string, f TargetFilter) (*Campaign, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("campaign name is required")
	}
	if f.Limit <= 0 || f.Limit > defaultTargetLimit {
		f.Limit = defaultTargetLimit
	}
	f.State = strings.ToUpper(strings.TrimSpace(f.State))
	now := s.now()

	targets, err := s.repo.Targets(ctx, f, now)
	if err != nil {
		return nil, fmt.Errorf("select targets: %w", err)
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	c := &Campaign{
		ID:        uuid.New().String(),
		Name:      name,
		State:     f.State,
		City:      f.City,
		Category:  f.Category,
		Status:    CampaignDraft,
		Contacts:  len(targets),
		CreatedAt: now,
	}
	contacts := make([]Contact, len(targets))
	for i, b := range targets {
		token, err := NewToken()
		if err != nil {
			return nil, err
		}
		contacts[i] = Contact{
			ID:           uuid.New().String(),
			CampaignID:   c.ID,
			BusinessID:   b.ID,
			BusinessName: b.Name,
			Email:        b.Email,
			Token:        token,
			Status:       ContactPending,
			ExpiresAt:    now.Add(s.cfg.TokenTTL),
		}
	}

	if err := s.repo.CreateCampaign(ctx, c, contacts); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

// SendResult summarizes a campaign delivery.
type SendResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// SendCampaign delivers all pending invitations. Delivery failures are
// recorded per contact and do not stop the campaign.
func (s *Service) SendCampaign(ctx context.Context, id string) (*SendResult, error) {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetCampaignStatus(ctx, c.ID, CampaignSending, s.now()); err != nil {
		return nil, fmt.Errorf("mark sending: %w", err)
	}

	contacts, err := s.repo.PendingContacts(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list pending contacts: %w", err)
	}

	var res SendResult
	for _, ct := range contacts {
		if err := ctx.Err(); err != nil {
			return &res, err
		}
		status := ContactSent
		err := s.mailer.SendClaimInvite(ctx, Invite{
			To:           ct.Email,
			BusinessName: ct.BusinessName,
			Link:         s.Link(ct.Token),
			ExpiresAt:    ct.ExpiresAt,
		})
		if err != nil {
			s.lg.Warn("Claim invite failed",
				zap.String("campaign_id", c.ID),
				zap.String("business_id", ct.BusinessID),
				zap.Error(err),
			)
			status = ContactFailed
			res.Failed++
		} else {
			res.Sent++
		}
		if err := s.repo.MarkContact(ctx, ct.ID, status, s.now()); err != nil {
			return &res, fmt.Errorf("mark contact: %w", err)
		}
	}

	if err := s.repo.SetCampaignStatus(ctx, c.ID, CampaignSent, s.now()); err != nil {
		return &res, fmt.Errorf("mark sent: %w", err)
	}
	s.lg.Info("Claim campaign sent",
		zap.String("campaign_id", c.ID),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
	)
	return &res, nil
}

// ListCampaigns returns all campaigns, newest first.
func (s *Service) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	return s.repo.ListCampaigns(ctx)
}

// Preview returns the business behind a usable token.
func (s *Service) Preview(ctx context.Context, token string) (*business.Business, error) {
	ct, err := s.usableContact(ctx, token)
	if err != nil {
		return nil, err
	}
	b, err := s.businesses.Get(ctx, ct.BusinessID)
	if err != nil {
		return nil, err
	}
	if b.Claimed {
		return nil, ErrAlreadyClaimed
	}
	return b, nil
}

// Redeem transfers ownership of the invited business to the user.
func (s *Service) Redeem(ctx context.Context, token, userID string) (*business.Business, error) {
	ct, err := s.usableContact(ctx, token)
	if err != nil {
		return nil, err
	}

	owned, err := s.businesses.GetByOwner(ctx, userID)
	switch {
	case errors.Is(err, business.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("get owned business: %w", err)
	case owned.ID == ct.BusinessID:
		return owned, nil
	default:
		return nil, ErrOwnsBusiness
	}

	if err := s.repo.Redeem(ctx, ct.ID, ct.BusinessID, userID, s.now()); err != nil {
		return nil, err
	}
	s.cache.Invalidate()

	b, err := s.businesses.Get(ctx, ct.BusinessID)
	if err != nil {
		return nil, err
	}
	s.lg.Info("Business claimed", zap.String("business_id", b.ID), zap.String("user_id", userID))
	return b, nil
}

// Link builds the invitation URL for a token.
func (s *Service) Link(token string) string {
	return s.cfg.BaseURL + "/claim/" + token
}

func (s *Service) usableContact(ctx context.Context, token string) (*Contact, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	ct, err := s.repo.ContactByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if ct.Status == ContactClaimed {
		return nil, ErrAlreadyClaimed
	}
	if !ct.Usable(s.now()) {
		return nil, ErrInvalidToken
	}
	return ct, nil
}

// NewToken returns 32 random bytes, hex encoded.
func NewToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	return hex.EncodeToString(b[:]), nil
}
