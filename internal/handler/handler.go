// Package handler serves the directory JSON API on a net/http ServeMux.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xenking/dumpster-directory/internal/cache"
	"github.com/xenking/dumpster-directory/internal/domain/auth"
	"github.com/xenking/dumpster-directory/internal/domain/billing"
	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/domain/claim"
	"github.com/xenking/dumpster-directory/internal/domain/lead"
	"github.com/xenking/dumpster-directory/internal/domain/quote"
	"github.com/xenking/dumpster-directory/internal/geo"
	"github.com/xenking/dumpster-directory/pkg/httpmiddleware"
)

// Directory is the read side of the listing cache.
type Directory interface {
	Snapshot(ctx context.Context) (*cache.Snapshot, error)
	Invalidate()
}

// Businesses administers listings.
type Businesses interface {
	Create(ctx context.Context, b *business.Business) error
	Update(ctx context.Context, id string, p business.Patch) (*business.Business, error)
	Delete(ctx context.Context, id string) error
}

// BusinessStore reads and bulk-writes listings bypassing the cache.
type BusinessStore interface {
	List(ctx context.Context) ([]business.Business, error)
	Get(ctx context.Context, id string) (*business.Business, error)
	GetByOwner(ctx context.Context, ownerID string) (*business.Business, error)
	Upsert(ctx context.Context, b *business.Business) (bool, error)
}

// Quotes handles quote intake and status changes.
type Quotes interface {
	Submit(ctx context.Context, req quote.SubmitRequest) (*quote.Quote, error)
	Get(ctx context.Context, id string) (*quote.Quote, error)
	List(ctx context.Context, f quote.Filter) ([]quote.Quote, error)
	UpdateStatus(ctx context.Context, id string, to quote.Status, actor quote.Actor) (*quote.Quote, error)
}

// Leads sells lead contact details for credits.
type Leads interface {
	Inbox(ctx context.Context, businessID string, f lead.InboxFilter) ([]lead.Lead, error)
	Reveal(ctx context.Context, businessID, quoteID string) (*lead.RevealResult, error)
	Grant(ctx context.Context, businessID string, credits int, reason string) (int, error)
}

// Billing handles plans, checkout and subscriptions.
type Billing interface {
	ListPlans(ctx context.Context, activeOnly bool) ([]billing.Plan, error)
	UpsertPlan(ctx context.Context, p *billing.Plan) error
	Checkout(ctx context.Context, businessID, planID, email string) (*billing.CheckoutSession, error)
	CancelSubscription(ctx context.Context, businessID string) (*billing.Subscription, error)
	Subscription(ctx context.Context, businessID string) (*billing.Subscription, error)
	Transactions(ctx context.Context, businessID string, limit int) ([]billing.Transaction, error)
}

// WebhookVerifier authenticates and decodes gateway webhook payloads.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (billing.Event, error)
}

// EventProcessor applies verified webhook events.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, e billing.Event) error
}

// Claims runs claim campaigns and redemptions.
type Claims interface {
	CreateCampaign(ctx context.Context, name string, f claim.TargetFilter) (*claim.Campaign, error)
	SendCampaign(ctx context.Context, id string) (*claim.SendResult, error)
	ListCampaigns(ctx context.Context) ([]claim.Campaign, error)
	Preview(ctx context.Context, token string) (*business.Business, error)
	Redeem(ctx context.Context, token, userID string) (*business.Business, error)
}

// Sessions manages dealer accounts.
type Sessions interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, *auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.User, *auth.Session, error)
	Authenticate(ctx context.Context, token string) (*auth.User, error)
	Logout(ctx context.Context, token string) error
}

// KeyAuthenticator validates admin API keys.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Locator resolves ZIP codes.
type Locator interface {
	Lookup(ctx context.Context, zip string) (*geo.Location, error)
}

// Deps are the services behind the API.
type Deps struct {
	Directory  Directory
	Businesses Businesses
	Store      BusinessStore
	Quotes     Quotes
	Leads      Leads
	Billing    Billing
	Verifier   WebhookVerifier
	Events     EventProcessor
	Claims     Claims
	Sessions   Sessions
	Keys       KeyAuthenticator
	Locator    Locator
}

// Config holds non-dependency handler settings.
type Config struct {
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
	// MaxImportBytes caps admin import uploads.
	MaxImportBytes int64
	// QuoteLimit throttles POST /api/quotes per client. Zero disables it.
	QuoteLimit httpmiddleware.RateLimitConfig
}

// Handler serves the API routes.
type Handler struct {
	Deps
	cfg Config
	now func() time.Time
}

// New creates a Handler.
func New(cfg Config, deps Deps) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxImportBytes <= 0 {
		cfg.MaxImportBytes = 64 << 20
	}
	return &Handler{Deps: deps, cfg: cfg, now: time.Now}
}

// Register adds every API route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	quoteLimit := func(next http.Handler) http.Handler { return next }
	if h.cfg.QuoteLimit.Max > 0 {
		quoteLimit = httpmiddleware.RateLimit(h.cfg.QuoteLimit)
	}

	// Public.
	mux.HandleFunc("GET /api/businesses", h.listBusinesses)
	mux.HandleFunc("GET /api/businesses/{id}", h.getBusiness)
	mux.HandleFunc("GET /api/categories", h.listCategories)
	mux.HandleFunc("GET /api/plans", h.listActivePlans)
	mux.Handle("POST /api/quotes", quoteLimit(http.HandlerFunc(h.submitQuote)))
	mux.HandleFunc("GET /api/zip/{zip}", h.lookupZip)
	mux.HandleFunc("GET /api/claim/{token}", h.previewClaim)
	mux.Handle("POST /api/claim/{token}", h.dealer(h.redeemClaim))
	mux.HandleFunc("POST /api/stripe/webhook", h.stripeWebhook)
	mux.HandleFunc("POST /api/webhooks/stripe", h.stripeWebhook)

	// Dealer.
	mux.HandleFunc("POST /api/auth/register", h.register)
	mux.HandleFunc("POST /api/auth/login", h.login)
	mux.Handle("POST /api/auth/logout", h.dealer(h.logout))
	mux.Handle("GET /api/dealer/me", h.dealer(h.me))
	mux.Handle("GET /api/dealer/leads", h.owner(h.inbox))
	mux.Handle("POST /api/dealer/leads/{id}/reveal", h.owner(h.reveal))
	mux.Handle("PATCH /api/dealer/leads/{id}", h.owner(h.updateLead))
	mux.Handle("PATCH /api/dealer/business", h.owner(h.updateOwnBusiness))
	mux.Handle("GET /api/dealer/subscription", h.owner(h.subscription))
	mux.Handle("POST /api/dealer/subscription/cancel", h.owner(h.cancelSubscription))
	mux.Handle("POST /api/dealer/checkout", h.owner(h.checkout))
	mux.Handle("GET /api/dealer/transactions", h.owner(h.transactions))

	// Admin.
	mux.Handle("POST /api/admin/businesses", h.admin(h.createBusiness))
	mux.Handle("PATCH /api/admin/businesses/{id}", h.admin(h.updateBusiness))
	mux.Handle("DELETE /api/admin/businesses/{id}", h.admin(h.deleteBusiness))
	mux.Handle("GET /api/admin/businesses/export", h.admin(h.exportBusinesses))
	mux.Handle("POST /api/admin/businesses/import", h.admin(h.importBusinesses))
	mux.Handle("POST /api/admin/businesses/{id}/credits", h.admin(h.grantCredits))
	mux.Handle("GET /api/admin/quotes", h.admin(h.listQuotes))
	mux.Handle("PATCH /api/admin/quotes/{id}", h.admin(h.updateQuote))
	mux.Handle("GET /api/admin/plans", h.admin(h.listPlans))
	mux.Handle("PUT /api/admin/plans", h.admin(h.upsertPlan))
	mux.Handle("POST /api/admin/cache/invalidate", h.admin(h.invalidateCache))
	mux.Handle("GET /api/admin/campaigns", h.admin(h.listCampaigns))
	mux.Handle("POST /api/admin/campaigns", h.admin(h.createCampaign))
	mux.Handle("POST /api/admin/campaigns/{id}/send", h.admin(h.sendCampaign))
}
