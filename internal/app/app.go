package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/cache"
	"github.com/xenking/dumpster-directory/internal/domain/auth"
	"github.com/xenking/dumpster-directory/internal/domain/billing"
	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/domain/claim"
	"github.com/xenking/dumpster-directory/internal/domain/lead"
	"github.com/xenking/dumpster-directory/internal/domain/quote"
	"github.com/xenking/dumpster-directory/internal/geo"
	"github.com/xenking/dumpster-directory/internal/handler"
	"github.com/xenking/dumpster-directory/internal/payment"
	"github.com/xenking/dumpster-directory/internal/storage/postgres"
	"github.com/xenking/dumpster-directory/pkg/health"
	"github.com/xenking/dumpster-directory/pkg/httpmiddleware"
)

const serviceName = "dumpster-directory"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	srv, err := Build(ctx, lg, m, cfg, pool)
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second, // admin imports
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.Handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		srv.Health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// Server is the assembled API.
type Server struct {
	Handler http.Handler
	Health  *health.Health
}

// Build wires repositories, services, health checks and middleware over an
// already migrated pool. Background jobs stop when ctx is cancelled; the
// caller owns the pool and Health.Stop.
func Build(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config, pool *pgxpool.Pool) (*Server, error) {
	proxies, err := httpmiddleware.ParseProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, err
	}
	clientKey := httpmiddleware.ClientKey(proxies)

	// Repositories.
	businessRepo := postgres.NewBusinessRepository(pool)
	quoteRepo := postgres.NewQuoteRepository(pool)
	leadRepo := postgres.NewLeadRepository(pool)
	billingRepo := postgres.NewBillingRepository(pool)
	claimRepo := postgres.NewClaimRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Directory cache.
	directory, err := cache.New(businessRepo, cache.Config{
		RefreshInterval: cfg.Cache.RefreshInterval,
		MaxStale:        cfg.Cache.MaxStale,
	},
		cache.WithLogger(lg.Named("cache")),
		cache.WithMeterProvider(m.MeterProvider()),
		cache.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cache")
	}
	if err := directory.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "start cache")
	}

	// Domain services.
	locator := newLocator(lg, m, cfg.Geo)
	meter := m.MeterProvider().Meter(serviceName)

	leadSvc, err := lead.NewService(leadRepo, businessRepo, quoteRepo, lg.Named("leads"), meter)
	if err != nil {
		return nil, errors.Wrap(err, "create lead service")
	}
	events, err := billing.NewEventProcessor(billingRepo, directory, lg.Named("billing"), meter,
		m.TracerProvider().Tracer(serviceName))
	if err != nil {
		return nil, errors.Wrap(err, "create event processor")
	}
	if cfg.Stripe.SecretKey == "" {
		lg.Warn("Stripe secret key not set, checkout will fail")
	}
	billingSvc := billing.NewService(billingRepo, payment.NewGateway(cfg.Stripe.SecretKey, nil), billing.URLs{
		Success: cfg.PublicURL + cfg.Stripe.SuccessPath,
		Cancel:  cfg.PublicURL + cfg.Stripe.CancelPath,
	}, lg.Named("billing"))
	claimSvc := claim.NewService(claimRepo, businessRepo, claim.NewLogMailer(lg.Named("mailer")), directory,
		claim.Config{BaseURL: cfg.PublicURL, TokenTTL: cfg.Claim.TokenTTL}, lg.Named("claims"))
	users := auth.NewUsers(userRepo, cfg.Session.TTL, lg.Named("auth"))

	h := handler.New(handler.Config{
		QuoteLimit: httpmiddleware.RateLimitConfig{
			Max:     cfg.QuoteLimit.Max,
			Window:  cfg.QuoteLimit.Window,
			KeyFunc: clientKey,
			Message: "too many quote requests",
		},
	}, handler.Deps{
		Directory:  directory,
		Businesses: business.NewService(businessRepo, directory),
		Store:      businessRepo,
		Quotes:     quote.NewService(quoteRepo, businessRepo, locator, lg.Named("quotes")),
		Leads:      leadSvc,
		Billing:    billingSvc,
		Verifier:   payment.NewVerifier(cfg.Stripe.WebhookSecret),
		Events:     events,
		Claims:     claimSvc,
		Sessions:   users,
		Keys:       auth.NewKeyAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
		Locator:    locator,
	})

	// Health check service.
	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	if cfg.Cache.RefreshInterval > 0 {
		// Three missed refreshes mean the ticker or the database is stuck.
		healthSvc.AddReadinessCheck("directory_cache", time.Second,
			health.FreshnessCheck(directory, 3*cfg.Cache.RefreshInterval, time.Now))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	go purgeSessions(ctx, lg, userRepo, cfg.Session.PurgeEvery)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	return &Server{
		Health: healthSvc,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-API-Key", "Stripe-Signature"},
				ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After", "Content-Disposition"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: clientKey,
				Skip:    isProbe,
			}),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.RequestID(),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}, nil
}

// newLocator chains the remote geocoders in front of the built-in table.
func newLocator(lg *zap.Logger, m httpmiddleware.Telemetry, cfg GeoConfig) *geo.Resolver {
	if cfg.DisableRemote {
		return geo.NewResolver(lg.Named("geo"), geo.Static{})
	}
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithPropagators(m.TextMapPropagator()),
		),
	}
	return geo.NewResolver(lg.Named("geo"),
		geo.NewZippopotam(client, ""),
		geo.NewNominatim(client, "", cfg.NominatimEmail),
		geo.Static{},
	)
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}

type sessionPurger interface {
	PurgeSessions(ctx context.Context, now time.Time) (int64, error)
}

// purgeSessions deletes expired dealer sessions every interval until ctx is
// cancelled.
func purgeSessions(ctx context.Context, lg *zap.Logger, repo sessionPurger, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := repo.PurgeSessions(ctx, now)
			if err != nil {
				lg.Warn("Session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Debug("Expired sessions purged", zap.Int64("count", n))
			}
		}
	}
}
