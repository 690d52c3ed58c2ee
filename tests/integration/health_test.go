//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestLivez(t *testing.T) {
	resp := doGet(t, "/livez")
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusOK)
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control: got %q, want no-store", cc)
	}
	body := decodeJSON[healthResponse](t, resp)
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %q", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	resp := doGet(t, "/readyz")
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusOK)
	body := decodeJSON[healthResponse](t, resp)
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %q: %v", body.Status, body.Checks)
	}
}

func TestReadyz_Draining(t *testing.T) {
	apiServer.Health.SetReady(false)
	t.Cleanup(func() { apiServer.Health.SetReady(true) })

	resp := doGet(t, "/readyz")
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusServiceUnavailable)
	body := decodeJSON[healthResponse](t, resp)
	if body.Status != "unhealthy" {
		t.Fatalf("expected status unhealthy, got %q", body.Status)
	}
	if _, ok := body.Checks["_readiness"]; !ok {
		t.Errorf("expected _readiness failure, got %v", body.Checks)
	}

	live := doGet(t, "/livez")
	defer live.Body.Close()
	expectStatus(t, live, http.StatusOK)
}
