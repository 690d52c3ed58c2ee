package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/domain/dedupe"
)

const (
	subscribedIDsSQL = `SELECT DISTINCT business_id FROM business_subscriptions
		WHERE status IN ('active', 'trialing')`

	moveQuotesSQL  = `UPDATE quotes SET business_id = $1 WHERE business_id = ANY($2)`
	moveRevealsSQL = `INSERT INTO lead_reveals (business_id, quote_id, revealed_at)
		SELECT $1, quote_id, min(revealed_at) FROM lead_reveals
		WHERE business_id = ANY($2) GROUP BY quote_id
		ON CONFLICT (business_id, quote_id) DO NOTHING`
	moveSubscriptionsSQL = `UPDATE business_subscriptions SET business_id = $1 WHERE business_id = ANY($2)`
	moveLedgerSQL        = `UPDATE payment_transactions SET business_id = $1 WHERE business_id = ANY($2)`
	dropContactsSQL      = `DELETE FROM claim_contacts ct WHERE ct.business_id = ANY($2) AND EXISTS (
		SELECT 1 FROM claim_contacts o WHERE o.campaign_id = ct.campaign_id
		AND (o.business_id = $1 OR (o.business_id = ANY($2) AND o.id < ct.id)))`
	moveContactsSQL = `UPDATE claim_contacts SET business_id = $1 WHERE business_id = ANY($2)`
	moveCustomerSQL = `UPDATE stripe_customers SET business_id = $1
		WHERE business_id = (SELECT business_id FROM stripe_customers WHERE business_id = ANY($2)
			ORDER BY created_at LIMIT 1)
		AND NOT EXISTS (SELECT 1 FROM stripe_customers WHERE business_id = $1)`
	deleteDuplicatesSQL = `DELETE FROM businesses WHERE id = ANY($1)`
	updateKeeperSQL     = `UPDATE businesses SET name = $2, phone = $3, email = $4, website = $5,
		address = $6, city = $7, state = $8, zip = $9, category = $10, rating = $11,
		review_count = $12, latitude = $13, longitude = $14, hours = $15, services = $16,
		gallery = $17, description = $18, featured = $19, featured_until = $20, claimed = $21,
		owner_id = $22, lead_credits = $23, updated_at = NOW()
		WHERE id = $1`
)

var _ dedupe.Store = (*DedupeStore)(nil)

// DedupeStore implements dedupe.Store backed by PostgreSQL.
type DedupeStore struct {
	pool *pgxpool.Pool
}

// NewDedupeStore returns a DedupeStore that uses the given pool.
func NewDedupeStore(pool *pgxpool.Pool) *DedupeStore {
	return &DedupeStore{pool: pool}
}

// List returns every listing.
func (s *DedupeStore) List(ctx context.Context) ([]business.Business, error) {
	return listBusinesses(ctx, s.pool)
}

// SubscribedIDs returns the IDs of listings with a live subscription.
func (s *DedupeStore) SubscribedIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, subscribedIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing subscribed businesses: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing subscribed businesses: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// Consolidate moves quotes, reveals, subscriptions, ledger entries, claim
// invitations and the gateway customer onto the keeper, deletes the
// duplicates and stores the merged keeper.
func (s *DedupeStore) Consolidate(ctx context.Context, keeper *business.Business, duplicateIDs []string) error {
	if len(duplicateIDs) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, step := range []struct {
			name string
			sql  string
		}{
			{"quotes", moveQuotesSQL},
			{"reveals", moveRevealsSQL},
			{"subscriptions", moveSubscriptionsSQL},
			{"transactions", moveLedgerSQL},
			{"overlapping invitations", dropContactsSQL},
			{"invitations", moveContactsSQL},
			{"customer", moveCustomerSQL},
		} {
			if _, err := tx.Exec(ctx, step.sql, keeper.ID, duplicateIDs); err != nil {
				return fmt.Errorf("moving %s to %q: %w", step.name, keeper.ID, err)
			}
		}

		if _, err := tx.Exec(ctx, deleteDuplicatesSQL, duplicateIDs); err != nil {
			return fmt.Errorf("deleting duplicates of %q: %w", keeper.ID, err)
		}

		k := keeper
		tag, err := tx.Exec(ctx, updateKeeperSQL,
			k.ID, k.Name, k.Phone, k.Email, k.Website, k.Address, k.City, k.State, k.Zip,
			k.Category, k.Rating, k.ReviewCount, k.Latitude, k.Longitude, k.Hours,
			orEmpty(k.Services), orEmpty(k.Gallery), k.Description, k.Featured, k.FeaturedUntil,
			k.Claimed, nullString(k.OwnerID), k.LeadCredits,
		)
		if err != nil {
			return fmt.Errorf("updating keeper %q: %w", k.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return business.ErrNotFound
		}
		return nil
	})
}
