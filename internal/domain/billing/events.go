package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Event types handled by ProcessEvent.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// Metadata keys attached to checkout sessions and subscriptions.
const (
	MetaBusinessID = "business_id"
	MetaPlanID     = "plan_id"
)

// Event is a verified gateway webhook event. Exactly one of the payload
// fields is set for handled types.
type Event struct {
	ID           string
	Type         string
	Created      time.Time
	Checkout     *CheckoutCompleted
	Subscription *SubscriptionChange
	Invoice      *InvoiceEvent
}

// CheckoutCompleted is the payload of checkout.session.completed.
type CheckoutCompleted struct {
	SessionID         string
	Mode              string // "payment" or "subscription"
	CustomerID        string
	SubscriptionID    string
	ClientReferenceID string
	AmountTotal       int64 // minor units
	Metadata          map[string]string
}

// SubscriptionChange is the payload of customer.subscription.* events.
type SubscriptionChange struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	Metadata          map[string]string
}

// InvoiceEvent is the payload of invoice.payment_* events.
type InvoiceEvent struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	PriceID        string
	AmountPaid     int64
	AmountDue      int64
	BillingReason  string
	// Metadata is the subscription metadata copied onto the invoice.
	Metadata map[string]string
}

// Invalidator is notified when featured placement changes.
type Invalidator interface {
	Invalidate()
}

// EventProcessor applies webhook events to billing state.
type EventProcessor struct {
	repo   Repository
	cache  Invalidator
	lg     *zap.Logger
	tracer trace.Tracer
	events metric.Int64Counter
}

// NewEventProcessor creates an EventProcessor.
func NewEventProcessor(repo Repository, cache Invalidator, lg *zap.Logger, meter metric.Meter, tracer trace.Tracer) (*EventProcessor, error) {
	events, err := meter.Int64Counter("directory.billing.webhook_events",
		metric.WithDescription("Webhook events by type and result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create webhook counter")
	}
	return &EventProcessor{repo: repo, cache: cache, lg: lg, tracer: tracer, events: events}, nil
}

// ProcessEvent applies e exactly once. Redelivered events and unknown types
// are acknowledged without effect. Events that cannot be matched yet fail
// with ErrEventNotReady and leave no trace, so the gateway redelivers them.
func (p *EventProcessor) ProcessEvent(ctx context.Context, e Event) (rerr error) {
	ctx, span := p.tracer.Start(ctx, "billing.ProcessEvent",
		trace.WithAttributes(attribute.String("event.id", e.ID), attribute.String("event.type", e.Type)),
	)
	defer span.End()

	result := "applied"
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			if result != "unmatched" {
				result = "error"
			}
		}
		p.events.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", e.Type),
			attribute.String("result", result),
		))
	}()

	lg := p.lg.With(zap.String("event_id", e.ID), zap.String("event_type", e.Type))

	var featuredChanged bool
	err := p.repo.InEvent(ctx, e.ID, e.Type, func(s Store) error {
		a := applier{store: s, lg: lg}
		var err error
		switch {
		case e.Type == EventCheckoutCompleted && e.Checkout != nil:
			featuredChanged, err = a.checkoutCompleted(ctx, e.Checkout)
		case (e.Type == EventSubscriptionCreated || e.Type == EventSubscriptionUpdated) && e.Subscription != nil:
			featuredChanged, err = a.subscriptionChanged(ctx, e.Subscription, false)
		case e.Type == EventSubscriptionDeleted && e.Subscription != nil:
			featuredChanged, err = a.subscriptionChanged(ctx, e.Subscription, true)
		case e.Type == EventInvoicePaid && e.Invoice != nil:
			err = a.invoicePaid(ctx, e.Invoice)
		case e.Type == EventInvoiceFailed && e.Invoice != nil:
			err = a.invoiceFailed(ctx, e.Invoice)
		default:
			result = "ignored"
		}
		if errors.Is(err, ErrBusinessUnresolvable) || errors.Is(err, ErrPlanNotFound) {
			lg.Warn("Webhook event not matched, awaiting redelivery", zap.Error(err))
			result = "unmatched"
			return fmt.Errorf("%w: %w", ErrEventNotReady, err)
		}
		return err
	})
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		result = "duplicate"
		lg.Debug("Skipping already processed event")
		return nil
	case errors.Is(err, ErrEventNotReady):
		return err
	case err != nil:
		return errors.Wrapf(err, "process %s", e.Type)
	}

	if featuredChanged {
		p.cache.Invalidate()
	}
	return nil
}

// applier holds the per-event transactional store.
type applier struct {
	store Store
	lg    *zap.Logger
}

func (a applier) checkoutCompleted(ctx context.Context, c *CheckoutCompleted) (bool, error) {
	businessID := c.Metadata[MetaBusinessID]
	if businessID == "" {
		businessID = c.ClientReferenceID
	}
	if businessID == "" && c.CustomerID != "" {
		id, err := a.store.BusinessByCustomer(ctx, c.CustomerID)
		if err != nil {
			return false, err
		}
		businessID = id
	}
	if businessID == "" {
		return false, ErrBusinessUnresolvable
	}

	if c.CustomerID != "" {
		if err := a.store.SaveCustomer(ctx, businessID, c.CustomerID); err != nil {
			return false, errors.Wrap(err, "save customer")
		}
	}

	plan, err := a.store.GetPlan(ctx, c.Metadata[MetaPlanID])
	if err != nil {
		return false, errors.Wrap(err, "get plan")
	}

	if c.Mode != "subscription" {
		if err := a.store.AddCredits(ctx, businessID, plan.Credits); err != nil {
			return false, errors.Wrap(err, "add credits")
		}
		return false, a.store.RecordTransaction(ctx, &Transaction{
			BusinessID:  businessID,
			Kind:        TxCreditPack,
			Status:      "succeeded",
			Amount:      minorToDecimal(c.AmountTotal),
			Credits:     plan.Credits,
			StripeRef:   c.SessionID,
			Description: plan.Name,
		})
	}

	if c.SubscriptionID == "" {
		return false, errors.New("subscription checkout without subscription id")
	}
	sub, err := a.store.GetSubscription(ctx, c.SubscriptionID)
	if err != nil && !errors.Is(err, ErrNoSubscription) {
		return false, errors.Wrap(err, "get subscription")
	}
	if sub == nil {
		sub = &Subscription{ID: c.SubscriptionID}
	}
	sub.BusinessID = businessID
	sub.PlanID = plan.ID
	// A subscription event delivered earlier may already carry a more
	// precise status.
	if sub.Status == "" || sub.Status == StatusIncomplete {
		sub.Status = StatusActive
	}
	if err := a.store.UpsertSubscription(ctx, sub); err != nil {
		return false, errors.Wrap(err, "upsert subscription")
	}

	if plan.Kind != PlanFeatured || !sub.Live() {
		return false, nil
	}
	if err := a.store.SetFeatured(ctx, businessID, true, sub.CurrentPeriodEnd); err != nil {
		return false, errors.Wrap(err, "set featured")
	}
	return true, nil
}

func (a applier) subscriptionChanged(ctx context.Context, c *SubscriptionChange, deleted bool) (bool, error) {
	sub, err := a.store.GetSubscription(ctx, c.ID)
	if err != nil && !errors.Is(err, ErrNoSubscription) {
		return false, errors.Wrap(err, "get subscription")
	}
	if sub == nil {
		sub = &Subscription{ID: c.ID}
	}

	if id := c.Metadata[MetaBusinessID]; id != "" {
		sub.BusinessID = id
	}
	if sub.BusinessID == "" && c.CustomerID != "" {
		if sub.BusinessID, err = a.store.BusinessByCustomer(ctx, c.CustomerID); err != nil {
			return false, err
		}
	}
	if sub.BusinessID == "" {
		return false, ErrBusinessUnresolvable
	}

	plan, err := a.resolvePlan(ctx, c.Metadata[MetaPlanID], sub.PlanID, c.PriceID)
	if err != nil {
		return false, err
	}
	sub.PlanID = plan.ID
	sub.Status = SubscriptionStatus(c.Status)
	if deleted {
		sub.Status = StatusCanceled
	}
	if c.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = c.CurrentPeriodEnd
	}
	sub.CancelAtPeriodEnd = c.CancelAtPeriodEnd

	if err := a.store.UpsertSubscription(ctx, sub); err != nil {
		return false, errors.Wrap(err, "upsert subscription")
	}

	if plan.Kind != PlanFeatured {
		return false, nil
	}
	var until *time.Time
	if sub.Live() {
		until = sub.CurrentPeriodEnd
	}
	if err := a.store.SetFeatured(ctx, sub.BusinessID, sub.Live(), until); err != nil {
		return false, errors.Wrap(err, "set featured")
	}
	return true, nil
}

func (a applier) invoicePaid(ctx context.Context, inv *InvoiceEvent) error {
	businessID, plan, err := a.invoiceTarget(ctx, inv)
	if err != nil {
		return err
	}

	credits := 0
	if plan != nil && plan.Kind == PlanLeadSubscription {
		credits = plan.Credits
	}
	if credits > 0 {
		if err := a.store.AddCredits(ctx, businessID, credits); err != nil {
			return errors.Wrap(err, "add credits")
		}
	}

	desc := "subscription payment"
	if plan != nil {
		desc = plan.Name
	}
	return a.store.RecordTransaction(ctx, &Transaction{
		BusinessID:  businessID,
		Kind:        TxSubscription,
		Status:      "succeeded",
		Amount:      minorToDecimal(inv.AmountPaid),
		Credits:     credits,
		StripeRef:   inv.ID,
		Description: desc,
	})
}

func (a applier) invoiceFailed(ctx context.Context, inv *InvoiceEvent) error {
	businessID, _, err := a.invoiceTarget(ctx, inv)
	if err != nil {
		return err
	}

	if inv.SubscriptionID != "" {
		sub, err := a.store.GetSubscription(ctx, inv.SubscriptionID)
		switch {
		case errors.Is(err, ErrNoSubscription):
		case err != nil:
			return errors.Wrap(err, "get subscription")
		default:
			sub.Status = StatusPastDue
			if err := a.store.UpsertSubscription(ctx, sub); err != nil {
				return errors.Wrap(err, "mark past due")
			}
		}
	}

	return a.store.RecordTransaction(ctx, &Transaction{
		BusinessID:  businessID,
		Kind:        TxSubscription,
		Status:      "failed",
		Amount:      minorToDecimal(inv.AmountDue),
		StripeRef:   inv.ID,
		Description: "payment failed: " + inv.BillingReason,
	})
}

// invoiceTarget finds the business and, when known, the plan an invoice is
// for. The subscription record wins over invoice metadata, which wins over
// the customer mapping. An invoice for a subscription not seen yet whose
// plan cannot be resolved is reported as unmatched.
func (a applier) invoiceTarget(ctx context.Context, inv *InvoiceEvent) (string, *Plan, error) {
	var (
		businessID, planID string
		knownSub           bool
	)
	if inv.SubscriptionID != "" {
		sub, err := a.store.GetSubscription(ctx, inv.SubscriptionID)
		switch {
		case errors.Is(err, ErrNoSubscription):
		case err != nil:
			return "", nil, errors.Wrap(err, "get subscription")
		default:
			businessID, planID, knownSub = sub.BusinessID, sub.PlanID, true
		}
	}
	if businessID == "" {
		businessID = inv.Metadata[MetaBusinessID]
	}
	if businessID == "" && inv.CustomerID != "" {
		id, err := a.store.BusinessByCustomer(ctx, inv.CustomerID)
		if err != nil {
			return "", nil, err
		}
		businessID = id
	}
	if businessID == "" {
		return "", nil, ErrBusinessUnresolvable
	}

	plan, err := a.resolvePlan(ctx, planID, inv.Metadata[MetaPlanID], inv.PriceID)
	if errors.Is(err, ErrPlanNotFound) {
		if inv.SubscriptionID != "" && !knownSub {
			return "", nil, err
		}
		a.lg.Warn("Invoice plan unknown", zap.String("price_id", inv.PriceID))
		return businessID, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return businessID, plan, nil
}

// resolvePlan tries explicit plan IDs in order, then the gateway price ID.
func (a applier) resolvePlan(ctx context.Context, firstID, secondID, priceID string) (*Plan, error) {
	for _, id := range []string{firstID, secondID} {
		if id == "" {
			continue
		}
		p, err := a.store.GetPlan(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPlanNotFound) {
			return nil, errors.Wrap(err, "get plan")
		}
	}
	if priceID == "" {
		return nil, ErrPlanNotFound
	}
	p, err := a.store.PlanByPriceID(ctx, priceID)
	if err != nil {
		return nil, errors.Wrap(err, "get plan by price")
	}
	return p, nil
}

func minorToDecimal(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
