package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/pkg/httpmiddleware"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (DUMPSTER_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (DUMPSTER_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	PublicURL    string `default:"http://localhost:3000" usage:"Public site URL used in checkout return and claim links" flag:"public-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (DUMPSTER_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Cache        CacheConfig
	Stripe       StripeConfig
	Geo          GeoConfig
	Session      SessionConfig
	Claim        ClaimConfig
	RateLimit    RateLimitConfig
	QuoteLimit   QuoteLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CacheConfig controls the in-memory directory cache.
type CacheConfig struct {
	RefreshInterval time.Duration `default:"5m" usage:"Background directory reload period" flag:"refresh-interval"`
	MaxStale        time.Duration `default:"0s" usage:"Reload on read once the snapshot is older than this; 0 disables" flag:"max-stale"`
}

// StripeConfig holds payment gateway credentials.
type StripeConfig struct {
	SecretKey     string `usage:"Stripe secret API key" flag:"secret-key"`
	WebhookSecret string `usage:"Stripe webhook endpoint signing secret" flag:"webhook-secret"`
	SuccessPath   string `default:"/dealer/billing?checkout=success" usage:"Checkout success page, relative to PublicURL" flag:"success-path"`
	CancelPath    string `default:"/dealer/billing?checkout=cancel" usage:"Checkout cancel page, relative to PublicURL" flag:"cancel-path"`
}

// GeoConfig controls ZIP code resolution.
type GeoConfig struct {
	Timeout        time.Duration `default:"5s" usage:"Timeout for one remote geocoder request"`
	NominatimEmail string        `usage:"Contact address sent to Nominatim" flag:"nominatim-email"`
	DisableRemote  bool          `default:"false" usage:"Resolve ZIP codes from the built-in table only" flag:"disable-remote"`
}

// SessionConfig controls dealer sessions.
type SessionConfig struct {
	TTL        time.Duration `default:"720h" usage:"Dealer session lifetime"`
	PurgeEvery time.Duration `default:"1h" usage:"Expired session cleanup period" flag:"purge-every"`
}

// ClaimConfig controls claim invitations.
type ClaimConfig struct {
	TokenTTL time.Duration `default:"336h" usage:"Claim invitation lifetime" flag:"token-ttl"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max            int           `default:"100" usage:"Max requests per window"`
	Window         time.Duration `default:"1m"  usage:"Rate limit window duration"`
	TrustedProxies []string      `usage:"Proxy addresses or CIDRs whose X-Forwarded-For is believed" flag:"trusted-proxies"`
}

// QuoteLimitConfig throttles quote submissions per client. Max 0 disables it.
type QuoteLimitConfig struct {
	Max    int           `default:"5" usage:"Max quote submissions per window" flag:"quote-max"`
	Window time.Duration `default:"10m" usage:"Quote limit window duration" flag:"quote-window"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins; https://*.example.com allows subdomains"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DUMPSTER",
		Files:     []string{"config.yaml", "/etc/dumpster/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set DUMPSTER_DATABASE_URL or DATABASE_URL")
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		return errors.New("stripe webhook secret is required when a secret key is set")
	}
	if c.QuoteLimit.Max < 0 || c.RateLimit.Max < 0 {
		return errors.New("rate limit max must not be negative")
	}
	if _, err := httpmiddleware.ParseProxies(c.RateLimit.TrustedProxies); err != nil {
		return err
	}
	return nil
}

// Fields summarizes the configuration for logs. Credentials are reported
// only as present or absent.
func (c *Config) Fields() []zap.Field {
	return []zap.Field{
		zap.String("addr", c.Addr),
		zap.String("public_url", c.PublicURL),
		zap.Bool("database_url", c.DatabaseURL != ""),
		zap.Bool("stripe", c.Stripe.SecretKey != ""),
		zap.Bool("api_key_pepper", c.APIKeyPepper != ""),
		zap.Duration("cache_refresh", c.Cache.RefreshInterval),
		zap.Bool("geo_remote", !c.Geo.DisableRemote),
		zap.Int("rate_limit", c.RateLimit.Max),
		zap.Int("quote_limit", c.QuoteLimit.Max),
		zap.Strings("trusted_proxies", c.RateLimit.TrustedProxies),
		zap.Strings("cors_origins", c.CORS.Origins),
	}
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's DUMPSTER_-prefixed configuration.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	if c.DatabaseURL == "" {
		if v := getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
