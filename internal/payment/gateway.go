// Package payment adapts Stripe to the billing domain: hosted checkout,
// subscription cancellation and webhook event decoding.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/xenking/dumpster-directory/internal/domain/billing"
)

var _ billing.Gateway = (*Gateway)(nil)

// Gateway creates Stripe checkout sessions and updates subscriptions.
type Gateway struct {
	sessions      session.Client
	subscriptions subscription.Client
}

// NewGateway creates a Gateway using the given secret key. A nil backend
// selects the default Stripe API backend.
func NewGateway(secretKey string, backend stripe.Backend) *Gateway {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &Gateway{
		sessions:      session.Client{B: backend, Key: secretKey},
		subscriptions: subscription.Client{B: backend, Key: secretKey},
	}
}

// CreateCheckout implements billing.Gateway. Recurring plans use subscription
// mode; credit packs use payment mode. Business and plan IDs travel as
// metadata on both the session and the subscription.
func (g *Gateway) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	params := CheckoutParams(req)
	params.Context = ctx

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "stripe checkout")
	}
	return &billing.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// CheckoutParams builds the Stripe request for req.
func CheckoutParams(req billing.CheckoutRequest) *stripe.CheckoutSessionParams {
	meta := map[string]string{
		billing.MetaBusinessID: req.BusinessID,
		billing.MetaPlanID:     req.Plan.ID,
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.BusinessID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(req.Plan.StripePriceID),
			Quantity: stripe.Int64(1),
		}},
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	switch {
	case req.CustomerID != "":
		params.Customer = stripe.String(req.CustomerID)
	case req.CustomerEmail != "":
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	if req.Plan.Kind.Recurring() {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		if req.CustomerID == "" {
			params.CustomerCreation = stripe.String(string(stripe.CheckoutSessionCustomerCreationAlways))
		}
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: meta}
	}
	return params
}

// CancelAtPeriodEnd implements billing.Gateway.
func (g *Gateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := g.subscriptions.Update(subscriptionID, params); err != nil {
		return errors.Wrap(err, "stripe cancel subscription")
	}
	return nil
}
