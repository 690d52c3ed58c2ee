// Package claim invites owners of unclaimed listings to take them over.
package claim

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/dumpster-directory/internal/domain/business"
)

// CampaignStatus tracks campaign delivery.
type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignSending CampaignStatus = "sending"
	CampaignSent    CampaignStatus = "sent"
)

// ContactStatus tracks a single invitation.
type ContactStatus string

const (
	ContactPending ContactStatus = "pending"
	ContactSent    ContactStatus = "sent"
	ContactClaimed ContactStatus = "claimed"
	ContactFailed  ContactStatus = "failed"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrInvalidToken     = errors.New("claim token invalid or expired")
	ErrAlreadyClaimed   = errors.New("business already claimed")
	ErrNoTargets        = errors.New("no unclaimed businesses with email match the filter")
	ErrOwnsBusiness     = errors.New("user already owns a business")
)

// Campaign is a batch of claim invitations.
type Campaign struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	State     string         `json:"state,omitempty"`
	City      string         `json:"city,omitempty"`
	Category  string         `json:"category,omitempty"`
	Status    CampaignStatus `json:"status"`
	Contacts  int            `json:"contacts"`
	CreatedAt time.Time      `json:"created_at"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
}

// Contact is one invitation for one business.
type Contact struct {
	ID           string        `json:"id"`
	CampaignID   string        `json:"campaign_id"`
	BusinessID   string        `json:"business_id"`
	BusinessName string        `json:"business_name"`
	Email        string        `json:"email"`
	Token        string        `json:"-"`
	Status       ContactStatus `json:"status"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	ClaimedAt    *time.Time    `json:"claimed_at,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// Usable reports whether the invitation can still be redeemed.
func (c *Contact) Usable(now time.Time) bool {
	return c.Status != ContactClaimed && c.Status != ContactFailed && now.Before(c.ExpiresAt)
}

// TargetFilter selects businesses for a campaign.
type TargetFilter struct {
	State    string `json:"state"`
	City     string `json:"city"`
	Category string `json:"category"`
	Limit    int    `json:"limit"`
}

// Repository defines claim persistence.
type Repository interface {
	// Targets returns unclaimed businesses with an email, excluding those
	// with a usable invitation.
	Targets(ctx context.Context, f TargetFilter, now time.Time) ([]business.Business, error)
	CreateCampaign(ctx context.Context, c *Campaign, contacts []Contact) error
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	ListCampaigns(ctx context.Context) ([]Campaign, error)
	SetCampaignStatus(ctx context.Context, id string, status CampaignStatus, at time.Time) error
	PendingContacts(ctx context.Context, campaignID string) ([]Contact, error)
	MarkContact(ctx context.Context, id string, status ContactStatus, at time.Time) error
	ContactByToken(ctx context.Context, token string) (*Contact, error)
	// Redeem sets the business owner and marks the contact claimed in one
	// transaction. It returns ErrAlreadyClaimed if the business has an owner.
	Redeem(ctx context.Context, contactID, businessID, userID string, at time.Time) error
}

// Invite is a claim invitation message.
type Invite struct {
	To           string
	BusinessName string
	Link         string
	ExpiresAt    time.Time
}

// Mailer delivers invitations.
type Mailer interface {
	SendClaimInvite(ctx context.Context, inv Invite) error
}
