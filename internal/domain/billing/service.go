package billing

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// URLs are the return pages of a hosted checkout.
type URLs struct {
	Success string
	Cancel  string
}

// Service handles dealer purchases and plan administration.
type Service struct {
	repo    Repository
	gateway Gateway
	urls    URLs
	lg      *zap.Logger
}

// NewService creates a billing Service.
func NewService(repo Repository, gateway Gateway, urls URLs, lg *zap.Logger) *Service {
	return &Service{repo: repo, gateway: gateway, urls: urls, lg: lg}
}

// ListPlans returns plans, optionally only active ones.
func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error) {
	return s.repo.ListPlans(ctx, activeOnly)
}

// UpsertPlan validates and stores a plan.
func (s *Service) UpsertPlan(ctx context.Context, p *Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.repo.UpsertPlan(ctx, p); err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

// Checkout starts a hosted checkout for the plan. Recurring plans are refused
// while the business already holds a live subscription.
func (s *Service) Checkout(ctx context.Context, businessID, planID, email string) (*CheckoutSession, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, ErrPlanInactive
	}

	if plan.Kind.Recurring() {
		sub, err := s.repo.CurrentSubscription(ctx, businessID)
		switch {
		case errors.Is(err, ErrNoSubscription):
		case err != nil:
			return nil, fmt.Errorf("get subscription: %w", err)
		case sub.Live():
			return nil, ErrAlreadySubscribed
		}
	}

	customerID, err := s.repo.CustomerID(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}

	sess, err := s.gateway.CreateCheckout(ctx, CheckoutRequest{
		BusinessID:    businessID,
		Plan:          plan,
		CustomerID:    customerID,
		CustomerEmail: email,
		SuccessURL:    s.urls.Success,
		CancelURL:     s.urls.Cancel,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}

	s.lg.Info("Checkout started",
		zap.String("business_id", businessID),
		zap.String("plan_id", planID),
		zap.String("session_id", sess.ID),
	)
	return sess, nil
}

// CancelSubscription cancels the live subscription at the end of the period.
// State changes arrive later through webhook events.
func (s *Service) CancelSubscription(ctx context.Context, businessID string) (*Subscription, error) {
	sub, err := s.repo.CurrentSubscription(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if !sub.Live() {
		return nil, ErrNoSubscription
	}
	if sub.CancelAtPeriodEnd {
		return sub, nil
	}

	if err := s.gateway.CancelAtPeriodEnd(ctx, sub.ID); err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	sub.CancelAtPeriodEnd = true
	return sub, nil
}

// Subscription returns the current subscription of the business.
func (s *Service) Subscription(ctx context.Context, businessID string) (*Subscription, error) {
	return s.repo.CurrentSubscription(ctx, businessID)
}

// Transactions returns the latest ledger entries of the business.
func (s *Service) Transactions(ctx context.Context, businessID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.Transactions(ctx, businessID, limit)
}
