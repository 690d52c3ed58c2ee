package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/dumpster-directory/internal/domain/auth"
	"github.com/xenking/dumpster-directory/internal/domain/billing"
	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/domain/lead"
	"github.com/xenking/dumpster-directory/internal/domain/quote"
)

type sessionResponse struct {
	User    *auth.User    `json:"user"`
	Session *auth.Session `json:"session"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		fail(w, r, err)
		return
	}
	user, sess, err := h.Sessions.Register(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{User: user, Session: sess})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		fail(w, r, err)
		return
	}
	user, sess, err := h.Sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Session: sess})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Logout(r.Context(), currentToken(r)); err != nil {
		fail(w, r, errors.Wrap(err, "logout"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	User     *auth.User     `json:"user"`
	Business *adminBusiness `json:"business"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	resp := meResponse{User: user}

	b, err := h.Store.GetByOwner(r.Context(), user.ID)
	switch {
	case errors.Is(err, business.ErrNotFound):
	case err != nil:
		fail(w, r, errors.Wrap(err, "get owned business"))
		return
	default:
		resp.Business = &adminBusiness{Business: b, OwnerID: b.OwnerID, LeadCredits: b.LeadCredits}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) inbox(w http.ResponseWriter, r *http.Request) {
	f := lead.InboxFilter{Status: quote.Status(r.URL.Query().Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		fail(w, r, badRequest("unknown status %q", f.Status))
		return
	}
	if s := r.URL.Query().Get("since"); s != "" {
		since, err := parseSince(s)
		if err != nil {
			fail(w, r, err)
			return
		}
		f.Since = since
	}
	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		fail(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		fail(w, r, err)
		return
	}

	b := ownedBusiness(r)
	leads, err := h.Leads.Inbox(r.Context(), b.ID, f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if leads == nil {
		leads = []lead.Lead{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":        leads,
		"lead_credits": b.LeadCredits,
	})
}

func (h *Handler) reveal(w http.ResponseWriter, r *http.Request) {
	res, err := h.Leads.Reveal(r.Context(), ownedBusiness(r).ID, r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// updateLead lets a dealer track a lead sent to their business.
func (h *Handler) updateLead(w http.ResponseWriter, r *http.Request) {
	q, err := h.Quotes.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := lead.CheckManage(ownedBusiness(r), q); err != nil {
		fail(w, r, err)
		return
	}
	h.changeStatus(w, r, quote.ActorDealer)
}

// ownerPatch lists the fields an owner may edit. Name and location stay
// with admins since they drive slugs and lead areas; rating and review
// count drive ranking.
type ownerPatch struct {
	Phone       *string   `json:"phone"`
	Email       *string   `json:"email"`
	Website     *string   `json:"website"`
	Address     *string   `json:"address"`
	Category    *string   `json:"category"`
	Hours       *string   `json:"hours"`
	Services    *[]string `json:"services"`
	Gallery     *[]string `json:"gallery"`
	Description *string   `json:"description"`
}

func (p ownerPatch) patch() business.Patch {
	return business.Patch{
		Phone:       p.Phone,
		Email:       p.Email,
		Website:     p.Website,
		Address:     p.Address,
		Category:    p.Category,
		Hours:       p.Hours,
		Services:    p.Services,
		Gallery:     p.Gallery,
		Description: p.Description,
	}
}

func (h *Handler) updateOwnBusiness(w http.ResponseWriter, r *http.Request) {
	var p ownerPatch
	if err := decode(w, r, h.cfg.MaxBodyBytes, &p); err != nil {
		fail(w, r, err)
		return
	}
	b, err := h.Businesses.Update(r.Context(), ownedBusiness(r).ID, p.patch())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminBusiness{Business: b, OwnerID: b.OwnerID, LeadCredits: b.LeadCredits})
}

func (h *Handler) subscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Billing.Subscription(r.Context(), ownedBusiness(r).ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Billing.CancelSubscription(r.Context(), ownedBusiness(r).ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type checkoutRequest struct {
	PlanID string `json:"plan_id"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.PlanID == "" {
		fail(w, r, badRequest("plan_id is required"))
		return
	}
	sess, err := h.Billing.Checkout(r.Context(), ownedBusiness(r).ID, req.PlanID, currentUser(r).Email)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, err)
		return
	}
	txs, err := h.Billing.Transactions(r.Context(), ownedBusiness(r).ID, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	if txs == nil {
		txs = []billing.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": txs})
}
