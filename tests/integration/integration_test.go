//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/app"
	"github.com/xenking/dumpster-directory/internal/domain/auth"
	"github.com/xenking/dumpster-directory/internal/storage/postgres"
)

const apiKeyPepper = "integration-pepper"

var (
	baseURL    string
	httpClient *http.Client
	adminKey   string
	testPool   *pgxpool.Pool
	apiServer  *app.Server
)

// Response types kept local so assertions follow the wire format.

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type listingResponse struct {
	ID            string   `json:"id"`
	Slug          string   `json:"slug"`
	Name          string   `json:"name"`
	City          string   `json:"city"`
	State         string   `json:"state"`
	Zip           string   `json:"zip"`
	Email         string   `json:"email"`
	Category      string   `json:"category"`
	Rating        float64  `json:"rating"`
	Services      []string `json:"services"`
	Featured      bool     `json:"featured"`
	Claimed       bool     `json:"claimed"`
	DistanceMiles *float64 `json:"distance_miles"`
	OwnerID       string   `json:"owner_id"`
	LeadCredits   int      `json:"lead_credits"`
}

type listingPage struct {
	Items []listingResponse `json:"items"`
	Total int               `json:"total"`
}

type sessionResponse struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Session struct {
		Token string `json:"token"`
	} `json:"session"`
}

type telemetry struct{}

func (telemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }

func (telemetry) MeterProvider() metric.MeterProvider { return metricnoop.NewMeterProvider() }

func (telemetry) TextMapPropagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "directory",
				"POSTGRES_PASSWORD": "directory",
				"POSTGRES_DB":       "directory",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("postgres port: %v", err)
	}

	url := fmt.Sprintf("postgres://directory:directory@%s:%s/directory?sslmode=disable", host, port.Port())
	testPool, err = postgres.NewPool(ctx, url)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := postgres.RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	adminKey, err = auth.NewKeyAuthenticator(postgres.NewAPIKeyRepository(testPool), []byte(apiKeyPepper)).
		Issue(ctx, "integration", []string{auth.ScopeAdmin})
	if err != nil {
		log.Fatalf("issue api key: %v", err)
	}

	// The server outlives the setup timeout.
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	apiServer, err = app.Build(runCtx, zap.NewNop(), telemetry{}, testConfig(url), testPool)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer apiServer.Health.Stop()

	server := httptest.NewServer(apiServer.Handler)
	defer server.Close()

	baseURL = server.URL
	httpClient = &http.Client{Timeout: 10 * time.Second}
	log.Printf("API available at %s", baseURL)

	if err := waitForReady(ctx); err != nil {
		log.Fatalf("wait for ready: %v", err)
	}

	return m.Run()
}

func testConfig(databaseURL string) *app.Config {
	return &app.Config{
		DatabaseURL:  databaseURL,
		PublicURL:    "http://directory.test",
		APIKeyPepper: apiKeyPepper,
		Cache:        app.CacheConfig{RefreshInterval: time.Minute},
		Stripe: app.StripeConfig{
			WebhookSecret: "whsec_integration",
			SuccessPath:   "/dealer/billing?checkout=success",
			CancelPath:    "/dealer/billing?checkout=cancel",
		},
		Geo:        app.GeoConfig{DisableRemote: true},
		Session:    app.SessionConfig{TTL: time.Hour},
		Claim:      app.ClaimConfig{TokenTTL: 24 * time.Hour},
		RateLimit:  app.RateLimitConfig{Max: 10000, Window: time.Minute},
		QuoteLimit: app.QuoteLimitConfig{Max: 1000, Window: time.Minute},
		CORS:       app.CORSConfig{Origins: []string{"*"}},
	}
}

// waitForReady polls /readyz until every readiness check has reported.
func waitForReady(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for readiness (last: %s): %w", lastErr, ctx.Err())
		case <-ticker.C:
			resp, err := httpClient.Get(baseURL + "/readyz")
			if err != nil {
				lastErr = err.Error()
				continue
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Sprintf("status %d: %s", resp.StatusCode, body)
		}
	}
}

// HTTP helpers.

func doGet(t *testing.T, path string) *http.Response {
	t.Helper()
	return doRequest(t, http.MethodGet, path, nil, nil)
}

func doJSON(t *testing.T, method, path string, body any, header http.Header) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	return doRequest(t, method, path, bytes.NewReader(data), header)
}

func doRequest(t *testing.T, method, path string, body io.Reader, header http.Header) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, body)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func admin() http.Header {
	h := http.Header{}
	h.Set("X-API-Key", adminKey)
	return h
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()

	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// uniqueName keeps listings from different tests apart in the shared database.
func uniqueName(t *testing.T, base string) string {
	return fmt.Sprintf("%s %s %d", base, t.Name(), time.Now().UnixNano())
}
