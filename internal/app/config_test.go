package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// --- Helpers ---

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

// --- Tests ---

func TestApplyPlatformDefaults(t *testing.T) {
	t.Run("fills database url and port", func(t *testing.T) {
		cfg := Config{Addr: defaultAddr}
		cfg.applyPlatformDefaults(env(map[string]string{
			"DATABASE_URL": "postgres://platform/db",
			"PORT":         "9000",
		}))
		assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	})

	t.Run("explicit settings win", func(t *testing.T) {
		cfg := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
		cfg.applyPlatformDefaults(env(map[string]string{
			"DATABASE_URL": "postgres://platform/db",
			"PORT":         "9000",
		}))
		assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
		assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"ok", Config{DatabaseURL: "postgres://x"}, ""},
		{"missing database", Config{}, "database URL is required"},
		{
			"stripe without webhook secret",
			Config{DatabaseURL: "postgres://x", Stripe: StripeConfig{SecretKey: "sk_test"}},
			"webhook secret",
		},
		{
			"negative quote limit",
			Config{DatabaseURL: "postgres://x", QuoteLimit: QuoteLimitConfig{Max: -1}},
			"must not be negative",
		},
		{
			"bad trusted proxy",
			Config{DatabaseURL: "postgres://x", RateLimit: RateLimitConfig{TrustedProxies: []string{"10.0.0.0/99"}}},
			"trusted proxy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigFields_HidesSecrets(t *testing.T) {
	cfg := Config{
		DatabaseURL:  "postgres://user:hunter2@db/directory",
		APIKeyPepper: "pepper-secret",
		Stripe:       StripeConfig{SecretKey: "sk_live_secret", WebhookSecret: "whsec_secret"},
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range cfg.Fields() {
		f.AddTo(enc)
	}

	assert.Equal(t, true, enc.Fields["database_url"])
	assert.Equal(t, true, enc.Fields["stripe"])
	for k, v := range enc.Fields {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, secret := range []string{"hunter2", "pepper-secret", "sk_live_secret", "whsec_secret"} {
			assert.NotContains(t, s, secret, k)
		}
	}
}
