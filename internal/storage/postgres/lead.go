package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dumpster-directory/internal/domain/billing"
	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/domain/lead"
	"github.com/xenking/dumpster-directory/internal/domain/quote"
)

const (
	lockCreditsSQL  = `SELECT lead_credits FROM businesses WHERE id = $1 FOR UPDATE`
	revealExistsSQL = `SELECT EXISTS (SELECT 1 FROM lead_reveals WHERE business_id = $1 AND quote_id = $2)`
	spendCreditsSQL = `UPDATE businesses SET lead_credits = lead_credits - $2 WHERE id = $1 RETURNING lead_credits`
	insertRevealSQL = `INSERT INTO lead_reveals (business_id, quote_id) VALUES ($1, $2)`
	grantCreditsSQL = `UPDATE businesses SET lead_credits = lead_credits + $2 WHERE id = $1 RETURNING lead_credits`
	insertLedgerSQL = `INSERT INTO payment_transactions (id, business_id, kind, status, amount, credits, stripe_ref, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

var _ lead.Repository = (*LeadRepository)(nil)

// LeadRepository implements lead.Repository backed by PostgreSQL.
type LeadRepository struct {
	pool *pgxpool.Pool
}

// NewLeadRepository returns a LeadRepository that uses the given pool.
func NewLeadRepository(pool *pgxpool.Pool) *LeadRepository {
	return &LeadRepository{pool: pool}
}

// Inbox returns quotes assigned to b and unassigned quotes from b's city and
// state, newest first. Spam is never listed.
func (r *LeadRepository) Inbox(ctx context.Context, b *business.Business, f lead.InboxFilter) ([]lead.Lead, error) {
	var w where
	w.add("q.status <> ?", string(quote.StatusSpam))
	if b.State != "" {
		w.add("(q.business_id = ? OR (q.business_id IS NULL AND q.state = ? AND lower(trim(q.city)) = lower(trim(?))))",
			b.ID, b.State, b.City)
	} else {
		w.add("q.business_id = ?", b.ID)
	}
	if f.Status != "" {
		w.add("q.status = ?", string(f.Status))
	}
	if !f.Since.IsZero() {
		w.add("q.created_at >= ?", f.Since)
	}

	// The reveal join is bound last so its placeholder follows the filters.
	w.args = append(w.args, b.ID)
	revealArg := fmt.Sprintf("$%d", len(w.args))

	sql := `SELECT q.id, COALESCE(q.business_id, ''), q.name, q.email, q.phone, q.zip, q.city, q.state,
		q.dumpster_size, q.project_type, q.start_date, q.message, q.status, q.source, q.created_at,
		lr.quote_id IS NOT NULL
		FROM quotes q
		LEFT JOIN lead_reveals lr ON lr.quote_id = q.id AND lr.business_id = ` + revealArg +
		w.clause() + ` ORDER BY q.created_at DESC, q.id` + w.page(f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, fmt.Errorf("listing inbox for %q: %w", b.ID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (lead.Lead, error) {
		var (
			l      lead.Lead
			status string
		)
		err := row.Scan(
			&l.ID, &l.BusinessID, &l.Name, &l.Email, &l.Phone, &l.Zip, &l.City, &l.State,
			&l.DumpsterSize, &l.ProjectType, &l.StartDate, &l.Message, &status, &l.Source, &l.CreatedAt,
			&l.Revealed,
		)
		l.Status = quote.Status(status)
		return l, err
	})
}

// Reveal locks the business balance, records the reveal and spends cost
// credits. A lead revealed earlier is free.
func (r *LeadRepository) Reveal(ctx context.Context, businessID, quoteID string, cost int) (bool, int, error) {
	var (
		charged   bool
		remaining int
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, lockCreditsSQL, businessID).Scan(&remaining); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return business.ErrNotFound
			}
			return fmt.Errorf("locking credits: %w", err)
		}

		var seen bool
		if err := tx.QueryRow(ctx, revealExistsSQL, businessID, quoteID).Scan(&seen); err != nil {
			return fmt.Errorf("checking reveal: %w", err)
		}
		if seen {
			return nil
		}
		if remaining < cost {
			return lead.ErrInsufficientCredits
		}

		if err := tx.QueryRow(ctx, spendCreditsSQL, businessID, cost).Scan(&remaining); err != nil {
			return fmt.Errorf("spending credits: %w", err)
		}
		if _, err := tx.Exec(ctx, insertRevealSQL, businessID, quoteID); err != nil {
			return fmt.Errorf("recording reveal: %w", err)
		}
		if err := recordTransaction(ctx, tx, &billing.Transaction{
			BusinessID:  businessID,
			Kind:        billing.TxCreditSpend,
			Status:      "succeeded",
			Credits:     -cost,
			Description: "lead " + quoteID,
		}); err != nil {
			return err
		}
		charged = true
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return charged, remaining, nil
}

// Grant adds credits and writes a ledger entry.
func (r *LeadRepository) Grant(ctx context.Context, businessID string, credits int, reason string) (int, error) {
	var balance int
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, grantCreditsSQL, businessID, credits).Scan(&balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return business.ErrNotFound
			}
			return fmt.Errorf("granting credits: %w", err)
		}
		return recordTransaction(ctx, tx, &billing.Transaction{
			BusinessID:  businessID,
			Kind:        billing.TxCreditGrant,
			Status:      "succeeded",
			Credits:     credits,
			Description: reason,
		})
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func recordTransaction(ctx context.Context, q querier, t *billing.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = timeNow()
	}
	_, err := q.Exec(ctx, insertLedgerSQL,
		t.ID, t.BusinessID, string(t.Kind), t.Status, t.Amount, t.Credits, t.StripeRef, t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording %s transaction: %w", t.Kind, err)
	}
	return nil
}
