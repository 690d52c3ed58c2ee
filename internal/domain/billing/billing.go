// Package billing sells featured placement, lead subscriptions and credit
// packs through a payment gateway, and applies the gateway's webhook events.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// PlanKind is what a plan sells.
type PlanKind string

const (
	PlanFeatured         PlanKind = "featured"
	PlanLeadSubscription PlanKind = "lead_subscription"
	PlanCreditPack       PlanKind = "credit_pack"
)

// Recurring reports whether plans of this kind are billed as subscriptions.
func (k PlanKind) Recurring() bool {
	return k == PlanFeatured || k == PlanLeadSubscription
}

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrPlanInactive         = errors.New("plan is not active")
	ErrNoSubscription       = errors.New("no active subscription")
	ErrAlreadySubscribed    = errors.New("business already has an active subscription")
	ErrDuplicateEvent       = errors.New("event already processed")
	ErrBusinessUnresolvable = errors.New("event cannot be matched to a business")
	ErrInvalidPlan          = errors.New("invalid plan")

	// ErrEventNotReady marks an event that references a business, plan or
	// subscription not yet known. It is not recorded, so a redelivery after
	// the related events arrive applies it.
	ErrEventNotReady = errors.New("event not ready")
)

// Plan is a purchasable product.
type Plan struct {
	ID            string          `json:"id" validate:"required,max=64"`
	Name          string          `json:"name" validate:"required,max=120"`
	Kind          PlanKind        `json:"kind" validate:"required,oneof=featured lead_subscription credit_pack"`
	Price         decimal.Decimal `json:"price"`
	Credits       int             `json:"credits" validate:"gte=0"`
	StripePriceID string          `json:"stripe_price_id" validate:"required"`
	Interval      string          `json:"interval" validate:"required,oneof=month year one_time"`
	Active        bool            `json:"active"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and kind-specific rules.
func (p *Plan) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: negative price", ErrInvalidPlan)
	}
	if p.Kind.Recurring() == (p.Interval == "one_time") {
		return fmt.Errorf("%w: %s plans cannot use interval %s", ErrInvalidPlan, p.Kind, p.Interval)
	}
	if p.Kind == PlanCreditPack && p.Credits == 0 {
		return fmt.Errorf("%w: credit pack without credits", ErrInvalidPlan)
	}
	return nil
}

// SubscriptionStatus mirrors the gateway's subscription states.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusUnpaid     SubscriptionStatus = "unpaid"
)

// Subscription is a recurring plan held by a business.
type Subscription struct {
	ID                string             `json:"id"`
	BusinessID        string             `json:"business_id"`
	PlanID            string             `json:"plan_id"`
	Status            SubscriptionStatus `json:"status"`
	CurrentPeriodEnd  *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Live reports whether the subscription still grants its benefits.
func (s *Subscription) Live() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// TransactionKind classifies ledger entries.
type TransactionKind string

const (
	TxSubscription TransactionKind = "subscription"
	TxCreditPack   TransactionKind = "credit_pack"
	TxCreditSpend  TransactionKind = "credit_spend"
	TxCreditGrant  TransactionKind = "credit_grant"
)

// Transaction is a payment ledger entry.
type Transaction struct {
	ID          string          `json:"id"`
	BusinessID  string          `json:"business_id"`
	Kind        TransactionKind `json:"kind"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Credits     int             `json:"credits"`
	StripeRef   string          `json:"stripe_ref,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Repository defines billing persistence outside of event processing.
type Repository interface {
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
	GetPlan(ctx context.Context, id string) (*Plan, error)
	UpsertPlan(ctx context.Context, p *Plan) error
	CustomerID(ctx context.Context, businessID string) (string, error)
	// CurrentSubscription returns the newest subscription of the business
	// or ErrNoSubscription.
	CurrentSubscription(ctx context.Context, businessID string) (*Subscription, error)
	Transactions(ctx context.Context, businessID string, limit int) ([]Transaction, error)
	// InEvent records the event ID and runs fn in the same transaction.
	// It returns ErrDuplicateEvent without calling fn for a seen event.
	InEvent(ctx context.Context, eventID, eventType string, fn func(Store) error) error
}

// Store is the transactional view used while applying an event.
type Store interface {
	GetPlan(ctx context.Context, id string) (*Plan, error)
	PlanByPriceID(ctx context.Context, priceID string) (*Plan, error)
	// BusinessByCustomer returns "" for an unknown customer.
	BusinessByCustomer(ctx context.Context, customerID string) (string, error)
	SaveCustomer(ctx context.Context, businessID, customerID string) error
	// GetSubscription returns ErrNoSubscription for an unknown ID.
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	UpsertSubscription(ctx context.Context, s *Subscription) error
	SetFeatured(ctx context.Context, businessID string, featured bool, until *time.Time) error
	AddCredits(ctx context.Context, businessID string, credits int) error
	RecordTransaction(ctx context.Context, tx *Transaction) error
}

// CheckoutRequest is passed to the gateway to start a hosted checkout.
type CheckoutRequest struct {
	BusinessID    string
	Plan          *Plan
	CustomerID    string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession is a started checkout.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Gateway is the payment provider.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
}
