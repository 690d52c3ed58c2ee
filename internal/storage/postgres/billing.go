package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dumpster-directory/internal/domain/billing"
)

const foreignKeyViolation = "23503"

const planColumns = `id, name, kind, price, credits, stripe_price_id, billing_interval, active`

const subscriptionColumns = `stripe_subscription_id, business_id, plan_id, status,
	current_period_end, cancel_at_period_end, updated_at`

const (
	listPlansSQL           = `SELECT ` + planColumns + ` FROM pricing_plans WHERE active OR NOT $1 ORDER BY kind, price, id`
	getPlanSQL             = `SELECT ` + planColumns + ` FROM pricing_plans WHERE id = $1`
	getPlanByPriceSQL      = `SELECT ` + planColumns + ` FROM pricing_plans WHERE stripe_price_id = $1`
	getCustomerSQL         = `SELECT stripe_customer_id FROM stripe_customers WHERE business_id = $1`
	businessByCustSQL      = `SELECT business_id FROM stripe_customers WHERE stripe_customer_id = $1`
	getSubscriptionSQL     = `SELECT ` + subscriptionColumns + ` FROM business_subscriptions
		WHERE stripe_subscription_id = $1`
	currentSubscriptionSQL = `SELECT ` + subscriptionColumns + ` FROM business_subscriptions
		WHERE business_id = $1
		ORDER BY status IN ('active', 'trialing') DESC, updated_at DESC LIMIT 1`
	listTransactionsSQL = `SELECT id, business_id, kind, status, amount, credits, stripe_ref, description, created_at
		FROM payment_transactions WHERE business_id = $1 ORDER BY created_at DESC, id LIMIT $2`

	upsertPlanSQL = `INSERT INTO pricing_plans (` + planColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, kind = EXCLUDED.kind,
			price = EXCLUDED.price, credits = EXCLUDED.credits,
			stripe_price_id = EXCLUDED.stripe_price_id, billing_interval = EXCLUDED.billing_interval,
			active = EXCLUDED.active`
	saveCustomerSQL = `INSERT INTO stripe_customers (business_id, stripe_customer_id) VALUES ($1, $2)
		ON CONFLICT (business_id) DO UPDATE SET stripe_customer_id = EXCLUDED.stripe_customer_id`
	upsertSubscriptionSQL = `INSERT INTO business_subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET business_id = EXCLUDED.business_id,
			plan_id = EXCLUDED.plan_id, status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end, updated_at = NOW()
		RETURNING updated_at`
	setFeaturedSQL = `UPDATE businesses SET featured = $2, featured_until = $3, updated_at = NOW() WHERE id = $1`
	addCreditsSQL  = `UPDATE businesses SET lead_credits = lead_credits + $2 WHERE id = $1`
	recordEventSQL = `INSERT INTO stripe_events (id, type) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
)

var _ billing.Repository = (*BillingRepository)(nil)

// BillingRepository implements billing.Repository backed by PostgreSQL.
type BillingRepository struct {
	pool *pgxpool.Pool
}

// NewBillingRepository returns a BillingRepository that uses the given pool.
func NewBillingRepository(pool *pgxpool.Pool) *BillingRepository {
	return &BillingRepository{pool: pool}
}

// ListPlans returns plans ordered by kind and price.
func (r *BillingRepository) ListPlans(ctx context.Context, activeOnly bool) ([]billing.Plan, error) {
	rows, err := r.pool.Query(ctx, listPlansSQL, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	return pgx.CollectRows(rows, scanPlan)
}

// GetPlan returns a plan by ID.
func (r *BillingRepository) GetPlan(ctx context.Context, id string) (*billing.Plan, error) {
	return (&billingStore{q: r.pool}).GetPlan(ctx, id)
}

// UpsertPlan creates or replaces a plan.
func (r *BillingRepository) UpsertPlan(ctx context.Context, p *billing.Plan) error {
	_, err := r.pool.Exec(ctx, upsertPlanSQL,
		p.ID, p.Name, string(p.Kind), p.Price, p.Credits, p.StripePriceID, p.Interval, p.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting plan %q: %w", p.ID, err)
	}
	return nil
}

// CustomerID returns the gateway customer of a business or "".
func (r *BillingRepository) CustomerID(ctx context.Context, businessID string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, getCustomerSQL, businessID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("finding customer of %q: %w", businessID, err)
	}
	return id, nil
}

// CurrentSubscription prefers a live subscription, then the most recently
// updated one.
func (r *BillingRepository) CurrentSubscription(ctx context.Context, businessID string) (*billing.Subscription, error) {
	return oneSubscription(ctx, r.pool, currentSubscriptionSQL, businessID)
}

// Transactions returns the newest ledger entries of a business.
func (r *BillingRepository) Transactions(ctx context.Context, businessID string, limit int) ([]billing.Transaction, error) {
	rows, err := r.pool.Query(ctx, listTransactionsSQL, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions of %q: %w", businessID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (billing.Transaction, error) {
		var (
			t    billing.Transaction
			kind string
		)
		err := row.Scan(&t.ID, &t.BusinessID, &kind, &t.Status, &t.Amount, &t.Credits,
			&t.StripeRef, &t.Description, &t.CreatedAt)
		t.Kind = billing.TransactionKind(kind)
		return t, err
	})
}

// InEvent records the event and runs fn in one transaction. Concurrent
// deliveries of the same event serialize on the primary key.
func (r *BillingRepository) InEvent(ctx context.Context, eventID, eventType string, fn func(billing.Store) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, recordEventSQL, eventID, eventType)
		if err != nil {
			return fmt.Errorf("recording event %q: %w", eventID, err)
		}
		if tag.RowsAffected() == 0 {
			return billing.ErrDuplicateEvent
		}
		return fn(&billingStore{q: tx})
	})
}

var _ billing.Store = (*billingStore)(nil)

// billingStore applies event effects within a transaction.
type billingStore struct {
	q querier
}

func (s *billingStore) GetPlan(ctx context.Context, id string) (*billing.Plan, error) {
	return onePlan(ctx, s.q, getPlanSQL, id)
}

func (s *billingStore) PlanByPriceID(ctx context.Context, priceID string) (*billing.Plan, error) {
	return onePlan(ctx, s.q, getPlanByPriceSQL, priceID)
}

func (s *billingStore) BusinessByCustomer(ctx context.Context, customerID string) (string, error) {
	var id string
	err := s.q.QueryRow(ctx, businessByCustSQL, customerID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("finding business of customer %q: %w", customerID, err)
	}
	return id, nil
}

func (s *billingStore) SaveCustomer(ctx context.Context, businessID, customerID string) error {
	if _, err := s.q.Exec(ctx, saveCustomerSQL, businessID, customerID); err != nil {
		if isForeignKeyViolation(err) {
			return billing.ErrBusinessUnresolvable
		}
		return fmt.Errorf("saving customer %q: %w", customerID, err)
	}
	return nil
}

func (s *billingStore) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	return oneSubscription(ctx, s.q, getSubscriptionSQL, id)
}

func (s *billingStore) UpsertSubscription(ctx context.Context, sub *billing.Subscription) error {
	err := s.q.QueryRow(ctx, upsertSubscriptionSQL,
		sub.ID, sub.BusinessID, sub.PlanID, string(sub.Status), sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
	).Scan(&sub.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return billing.ErrBusinessUnresolvable
		}
		return fmt.Errorf("upserting subscription %q: %w", sub.ID, err)
	}
	return nil
}

func (s *billingStore) SetFeatured(ctx context.Context, businessID string, featured bool, until *time.Time) error {
	return s.touchBusiness(ctx, setFeaturedSQL, businessID, featured, until)
}

func (s *billingStore) AddCredits(ctx context.Context, businessID string, credits int) error {
	return s.touchBusiness(ctx, addCreditsSQL, businessID, credits)
}

func (s *billingStore) RecordTransaction(ctx context.Context, t *billing.Transaction) error {
	err := recordTransaction(ctx, s.q, t)
	if isForeignKeyViolation(err) {
		return billing.ErrBusinessUnresolvable
	}
	return err
}

// touchBusiness runs an update on a listing that may have been deleted since
// the checkout started.
func (s *billingStore) touchBusiness(ctx context.Context, sql, businessID string, args ...any) error {
	tag, err := s.q.Exec(ctx, sql, append([]any{businessID}, args...)...)
	if err != nil {
		return fmt.Errorf("updating business %q: %w", businessID, err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrBusinessUnresolvable
	}
	return nil
}

func onePlan(ctx context.Context, q querier, sql, arg string) (*billing.Plan, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting plan %q: %w", arg, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPlan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrPlanNotFound
		}
		return nil, fmt.Errorf("getting plan %q: %w", arg, err)
	}
	return &p, nil
}

func scanPlan(row pgx.CollectableRow) (billing.Plan, error) {
	var (
		p    billing.Plan
		kind string
	)
	err := row.Scan(&p.ID, &p.Name, &kind, &p.Price, &p.Credits, &p.StripePriceID, &p.Interval, &p.Active)
	if err != nil {
		return billing.Plan{}, fmt.Errorf("scanning plan: %w", err)
	}
	p.Kind = billing.PlanKind(kind)
	return p, nil
}

func oneSubscription(ctx context.Context, q querier, sql, arg string) (*billing.Subscription, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting subscription %q: %w", arg, err)
	}
	sub, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (billing.Subscription, error) {
		var (
			s      billing.Subscription
			status string
		)
		err := row.Scan(&s.ID, &s.BusinessID, &s.PlanID, &status, &s.CurrentPeriodEnd,
			&s.CancelAtPeriodEnd, &s.UpdatedAt)
		s.Status = billing.SubscriptionStatus(status)
		return s, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrNoSubscription
		}
		return nil, fmt.Errorf("getting subscription %q: %w", arg, err)
	}
	return &sub, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
