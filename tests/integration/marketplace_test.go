//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type leadResponse struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Status     string `json:"status"`
	Revealed   bool   `json:"revealed"`
}

type inboxResponse struct {
	Items       []leadResponse `json:"items"`
	LeadCredits int            `json:"lead_credits"`
}

type revealResponse struct {
	Lead             leadResponse `json:"lead"`
	Charged          bool         `json:"charged"`
	CreditsRemaining int          `json:"credits_remaining"`
}

func registerDealer(t *testing.T) sessionResponse {
	t.Helper()

	email := fmt.Sprintf("dealer-%d@example.com", time.Now().UnixNano())
	resp := doJSON(t, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": "roll-off-2024",
		"name":     "Dana Dealer",
	}, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)

	sess := decodeJSON[sessionResponse](t, resp)
	require.NotEmpty(t, sess.Session.Token)
	return sess
}

// claimToken reads the invitation token that would have been mailed.
func claimToken(t *testing.T, businessID string) string {
	t.Helper()

	var token string
	err := testPool.QueryRow(context.Background(),
		`SELECT token FROM claim_contacts WHERE business_id = $1 ORDER BY expires_at DESC LIMIT 1`,
		businessID).Scan(&token)
	require.NoError(t, err)
	return token
}

// claimListing creates a listing and redeems a claim invitation for it.
func claimListing(t *testing.T, dealer sessionResponse) listingResponse {
	t.Helper()

	category := uniqueName(t, "Claim")
	listing := createListing(t, map[string]any{
		"name":     uniqueName(t, "Capital Containers"),
		"email":    "owner@capital-containers.example",
		"city":     "Austin",
		"state":    "TX",
		"zip":      "78701",
		"category": category,
	})

	resp := doJSON(t, http.MethodPost, "/api/admin/campaigns", map[string]any{
		"name":     "Austin outreach",
		"state":    "TX",
		"category": category,
	}, admin())
	expectStatus(t, resp, http.StatusCreated)
	campaign := decodeJSON[map[string]any](t, resp)
	resp.Body.Close()
	require.EqualValues(t, 1, campaign["contacts"])

	resp = doRequest(t, http.MethodPost, fmt.Sprintf("/api/admin/campaigns/%s/send", campaign["id"]), nil, admin())
	expectStatus(t, resp, http.StatusOK)
	sent := decodeJSON[map[string]int](t, resp)
	resp.Body.Close()
	assert.Equal(t, 1, sent["sent"])

	token := claimToken(t, listing.ID)

	resp = doGet(t, "/api/claim/"+token)
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, listing.ID, decodeJSON[listingResponse](t, resp).ID)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, "/api/claim/"+token, nil, bearer(dealer.Session.Token))
	expectStatus(t, resp, http.StatusOK)
	claimed := decodeJSON[listingResponse](t, resp)
	resp.Body.Close()
	assert.True(t, claimed.Claimed)
	assert.Equal(t, dealer.User.ID, claimed.OwnerID)

	resp = doGet(t, "/api/claim/"+token)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusConflict)

	return claimed
}

func TestDealer_Auth(t *testing.T) {
	dealer := registerDealer(t)

	t.Run("duplicate email", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, "/api/auth/register", map[string]string{
			"email":    strings.ToUpper(dealer.User.Email),
			"password": "another-password",
		}, nil)
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusConflict)
	})

	t.Run("login", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, "/api/auth/login", map[string]string{
			"email":    dealer.User.Email,
			"password": "roll-off-2024",
		}, nil)
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusOK)
		assert.NotEqual(t, dealer.Session.Token, decodeJSON[sessionResponse](t, resp).Session.Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, "/api/auth/login", map[string]string{
			"email":    dealer.User.Email,
			"password": "not-the-password",
		}, nil)
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("inbox needs a claimed listing", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, "/api/dealer/leads", nil, bearer(dealer.Session.Token))
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusForbidden)
	})

	t.Run("logout revokes session", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, "/api/auth/logout", nil, bearer(dealer.Session.Token))
		expectStatus(t, resp, http.StatusNoContent)
		resp.Body.Close()

		resp = doRequest(t, http.MethodGet, "/api/dealer/me", nil, bearer(dealer.Session.Token))
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusUnauthorized)
	})
}

func TestClaimAndLeads(t *testing.T) {
	dealer := registerDealer(t)
	owned := claimListing(t, dealer)
	auth := bearer(dealer.Session.Token)

	resp := doRequest(t, http.MethodGet, "/api/dealer/me", nil, auth)
	expectStatus(t, resp, http.StatusOK)
	me := decodeJSON[struct {
		Business *listingResponse `json:"business"`
	}](t, resp)
	resp.Body.Close()
	require.NotNil(t, me.Business)
	assert.Equal(t, owned.ID, me.Business.ID)

	resp = doJSON(t, http.MethodPost, "/api/admin/businesses/"+owned.ID+"/credits",
		map[string]any{"credits": 1, "reason": "welcome"}, admin())
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, 1, decodeJSON[map[string]int](t, resp)["lead_credits"])
	resp.Body.Close()

	submit := func(name, email string) string {
		t.Helper()
		resp := doJSON(t, http.MethodPost, "/api/quotes", map[string]string{
			"business_id":   owned.ID,
			"name":          name,
			"email":         email,
			"phone":         "512-555-0142",
			"zip":           "78701",
			"dumpster_size": "20 yard",
			"message":       "Kitchen remodel debris",
		}, nil)
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusCreated)
		q := decodeJSON[map[string]string](t, resp)
		assert.Equal(t, "new", q["status"])
		return q["id"]
	}
	first := submit("Riley Customer", "riley@example.com")
	second := submit("Sam Customer", "sam@example.com")

	resp = doRequest(t, http.MethodGet, "/api/dealer/leads", nil, auth)
	expectStatus(t, resp, http.StatusOK)
	inbox := decodeJSON[inboxResponse](t, resp)
	resp.Body.Close()
	require.Len(t, inbox.Items, 2)
	assert.Equal(t, 1, inbox.LeadCredits)
	for _, l := range inbox.Items {
		assert.False(t, l.Revealed)
		assert.NotContains(t, []string{"riley@example.com", "sam@example.com"}, l.Email, "contact is masked")
	}

	reveal := func(id string) *http.Response {
		return doRequest(t, http.MethodPost, "/api/dealer/leads/"+id+"/reveal", nil, auth)
	}

	resp = reveal(first)
	expectStatus(t, resp, http.StatusOK)
	res := decodeJSON[revealResponse](t, resp)
	resp.Body.Close()
	assert.True(t, res.Charged)
	assert.Zero(t, res.CreditsRemaining)
	assert.Equal(t, "riley@example.com", res.Lead.Email)

	resp = reveal(first)
	expectStatus(t, resp, http.StatusOK)
	res = decodeJSON[revealResponse](t, resp)
	resp.Body.Close()
	assert.False(t, res.Charged, "repeat reveal is free")

	resp = reveal(second)
	expectStatus(t, resp, http.StatusPaymentRequired)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPatch, "/api/dealer/leads/"+first, map[string]string{"status": "won"}, auth)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPatch, "/api/dealer/leads/"+first, map[string]string{"status": "new"}, auth)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, "/api/admin/quotes?business_id="+owned.ID+"&status=won", nil, admin())
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	quotes := decodeJSON[struct {
		Items []leadResponse `json:"items"`
	}](t, resp)
	require.Len(t, quotes.Items, 1)
	assert.Equal(t, first, quotes.Items[0].ID)
}

func TestQuote_SpamAcceptedSilently(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/api/quotes", map[string]string{
		"name":            "Bot",
		"email":           "bot@example.com",
		"zip":             "78701",
		"company_website": "http://spam.example",
	}, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)
	assert.Equal(t, "new", decodeJSON[map[string]string](t, resp)["status"])
}

func TestQuote_RequiresContact(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/api/quotes", map[string]string{
		"name": "No Contact",
		"zip":  "78701",
	}, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestPlans(t *testing.T) {
	id := fmt.Sprintf("credits-%d", time.Now().UnixNano())
	resp := doJSON(t, http.MethodPut, "/api/admin/plans", map[string]any{
		"id":              id,
		"name":            "Five leads",
		"kind":            "credit_pack",
		"price":           "25.00",
		"credits":         5,
		"stripe_price_id": "price_integration",
		"interval":        "one_time",
		"active":          true,
	}, admin())
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doGet(t, "/api/plans")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	plans := decodeJSON[struct {
		Items []struct {
			ID    string `json:"id"`
			Price string `json:"price"`
		} `json:"items"`
	}](t, resp)
	var found bool
	for _, p := range plans.Items {
		if p.ID == id {
			found = true
			assert.Equal(t, "25", p.Price)
		}
	}
	assert.True(t, found, "active plan is public")
}

func TestStripeWebhook_RejectsBadSignature(t *testing.T) {
	h := http.Header{}
	h.Set("Stripe-Signature", "t=1,v1=deadbeef")
	resp := doRequest(t, http.MethodPost, "/api/stripe/webhook", strings.NewReader(`{"id":"evt_1"}`), h)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
}
