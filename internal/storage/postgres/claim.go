package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/domain/claim"
)

const campaignColumns = `c.id, c.name, c.state, c.city, c.category, c.status,
	(SELECT count(*) FROM claim_contacts ct WHERE ct.campaign_id = c.id), c.created_at, c.sent_at`

const contactColumns = `ct.id, ct.campaign_id, ct.business_id, b.name, ct.email, ct.token, ct.status,
	ct.sent_at, ct.claimed_at, ct.expires_at`

const (
	insertCampaignSQL = `INSERT INTO claim_campaigns (id, name, state, city, category, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	getCampaignSQL    = `SELECT ` + campaignColumns + ` FROM claim_campaigns c WHERE c.id = $1`
	listCampaignsSQL  = `SELECT ` + campaignColumns + ` FROM claim_campaigns c ORDER BY c.created_at DESC, c.id`
	setCampaignSQL    = `UPDATE claim_campaigns SET status = $2,
		sent_at = CASE WHEN $2 = 'sent' THEN $3::timestamptz ELSE sent_at END
		WHERE id = $1`
	pendingContactsSQL = `SELECT ` + contactColumns + ` FROM claim_contacts ct
		JOIN businesses b ON b.id = ct.business_id
		WHERE ct.campaign_id = $1 AND ct.status = 'pending' ORDER BY b.name, ct.id`
	markContactSQL = `UPDATE claim_contacts SET status = $2,
		sent_at = CASE WHEN $2 IN ('sent', 'failed') THEN $3::timestamptz ELSE sent_at END,
		claimed_at = CASE WHEN $2 = 'claimed' THEN $3::timestamptz ELSE claimed_at END
		WHERE id = $1`
	contactByTokenSQL = `SELECT ` + contactColumns + ` FROM claim_contacts ct
		JOIN businesses b ON b.id = ct.business_id WHERE ct.token = $1`
	assignOwnerSQL = `UPDATE businesses SET owner_id = $2, claimed = TRUE, updated_at = $3
		WHERE id = $1 AND owner_id IS NULL`
)

var _ claim.Repository = (*ClaimRepository)(nil)

// ClaimRepository implements claim.Repository backed by PostgreSQL.
type ClaimRepository struct {
	pool *pgxpool.Pool
}

// NewClaimRepository returns a ClaimRepository that uses the given pool.
func NewClaimRepository(pool *pgxpool.Pool) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

// Targets selects unclaimed listings with an email and no open invitation.
func (r *ClaimRepository) Targets(ctx context.Context, f claim.TargetFilter, now time.Time) ([]business.Business, error) {
	var w where
	w.add("NOT claimed")
	w.add("email <> ''")
	if f.State != "" {
		w.add("state = ?", strings.ToUpper(f.State))
	}
	if f.City != "" {
		w.add("lower(city) = lower(?)", f.City)
	}
	if f.Category != "" {
		w.add("lower(category) = lower(?)", f.Category)
	}
	w.add(`NOT EXISTS (SELECT 1 FROM claim_contacts ct WHERE ct.business_id = businesses.id
		AND ct.status IN ('pending', 'sent') AND ct.expires_at > ?)`, now)

	sql := `SELECT ` + businessColumns + ` FROM businesses` + w.clause() +
		` ORDER BY review_count DESC, name, id` + w.page(f.Limit, 0)
	rows, err := r.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, fmt.Errorf("selecting claim targets: %w", err)
	}
	return pgx.CollectRows(rows, scanBusiness)
}

// CreateCampaign stores a campaign and its contacts in one transaction.
func (r *ClaimRepository) CreateCampaign(ctx context.Context, c *claim.Campaign, contacts []claim.Contact) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertCampaignSQL,
			c.ID, c.Name, c.State, c.City, c.Category, string(c.Status), c.CreatedAt)
		if err != nil {
			return fmt.Errorf("creating campaign %q: %w", c.ID, err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"claim_contacts"},
			[]string{"id", "campaign_id", "business_id", "email", "token", "status", "expires_at"},
			pgx.CopyFromSlice(len(contacts), func(i int) ([]any, error) {
				ct := contacts[i]
				return []any{ct.ID, c.ID, ct.BusinessID, ct.Email, ct.Token, string(ct.Status), ct.ExpiresAt}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("creating campaign contacts: %w", err)
		}
		return nil
	})
}

// GetCampaign returns a campaign with its contact count.
func (r *ClaimRepository) GetCampaign(ctx context.Context, id string) (*claim.Campaign, error) {
	rows, err := r.pool.Query(ctx, getCampaignSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting campaign %q: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCampaign)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, claim.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("getting campaign %q: %w", id, err)
	}
	return &c, nil
}

// ListCampaigns returns all campaigns, newest first.
func (r *ClaimRepository) ListCampaigns(ctx context.Context) ([]claim.Campaign, error) {
	rows, err := r.pool.Query(ctx, listCampaignsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns: %w", err)
	}
	return pgx.CollectRows(rows, scanCampaign)
}

// SetCampaignStatus updates the campaign status; reaching sent stamps the
// send time.
func (r *ClaimRepository) SetCampaignStatus(ctx context.Context, id string, status claim.CampaignStatus, at time.Time) error {
	tag, err := r.pool.Exec(ctx, setCampaignSQL, id, string(status), at)
	if err != nil {
		return fmt.Errorf("updating campaign %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return claim.ErrCampaignNotFound
	}
	return nil
}

// PendingContacts returns invitations not yet delivered.
func (r *ClaimRepository) PendingContacts(ctx context.Context, campaignID string) ([]claim.Contact, error) {
	rows, err := r.pool.Query(ctx, pendingContactsSQL, campaignID)
	if err != nil {
		return nil, fmt.Errorf("listing pending contacts: %w", err)
	}
	return pgx.CollectRows(rows, scanContact)
}

// MarkContact records a delivery outcome or a claim.
func (r *ClaimRepository) MarkContact(ctx context.Context, id string, status claim.ContactStatus, at time.Time) error {
	if _, err := r.pool.Exec(ctx, markContactSQL, id, string(status), at); err != nil {
		return fmt.Errorf("updating contact %q: %w", id, err)
	}
	return nil
}

// ContactByToken returns the invitation for a token.
func (r *ClaimRepository) ContactByToken(ctx context.Context, token string) (*claim.Contact, error) {
	rows, err := r.pool.Query(ctx, contactByTokenSQL, token)
	if err != nil {
		return nil, fmt.Errorf("finding contact by token: %w", err)
	}
	ct, err := pgx.CollectExactlyOneRow(rows, scanContact)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, claim.ErrInvalidToken
		}
		return nil, fmt.Errorf("finding contact by token: %w", err)
	}
	return &ct, nil
}

// Redeem assigns the owner and marks the invitation claimed. The owner is
// only set on a listing that has none, and a user owns at most one listing.
func (r *ClaimRepository) Redeem(ctx context.Context, contactID, businessID, userID string, at time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, assignOwnerSQL, businessID, userID, at)
		if isUniqueViolation(err, "uq_businesses_owner_id") {
			return claim.ErrOwnsBusiness
		}
		if err != nil {
			return fmt.Errorf("assigning owner of %q: %w", businessID, err)
		}
		if tag.RowsAffected() == 0 {
			return claim.ErrAlreadyClaimed
		}
		if _, err := tx.Exec(ctx, markContactSQL, contactID, string(claim.ContactClaimed), at); err != nil {
			return fmt.Errorf("marking contact %q claimed: %w", contactID, err)
		}
		return nil
	})
}

func scanCampaign(row pgx.CollectableRow) (claim.Campaign, error) {
	var (
		c      claim.Campaign
		status string
	)
	err := row.Scan(&c.ID, &c.Name, &c.State, &c.City, &c.Category, &status, &c.Contacts, &c.CreatedAt, &c.SentAt)
	if err != nil {
		return claim.Campaign{}, fmt.Errorf("scanning campaign: %w", err)
	}
	c.Status = claim.CampaignStatus(status)
	return c, nil
}

func scanContact(row pgx.CollectableRow) (claim.Contact, error) {
	var (
		ct     claim.Contact
		status string
	)
	err := row.Scan(&ct.ID, &ct.CampaignID, &ct.BusinessID, &ct.BusinessName, &ct.Email, &ct.Token,
		&status, &ct.SentAt, &ct.ClaimedAt, &ct.ExpiresAt)
	if err != nil {
		return claim.Contact{}, fmt.Errorf("scanning contact: %w", err)
	}
	ct.Status = claim.ContactStatus(status)
	return ct, nil
}
