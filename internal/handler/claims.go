package handler

import (
	"net/http"

	"github.com/xenking/dumpster-directory/internal/domain/claim"
)

func (h *Handler) previewClaim(w http.ResponseWriter, r *http.Request) {
	b, err := h.Claims.Preview(r.Context(), r.PathValue("token"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(b, nil))
}

func (h *Handler) redeemClaim(w http.ResponseWriter, r *http.Request) {
	b, err := h.Claims.Redeem(r.Context(), r.PathValue("token"), currentUser(r).ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminBusiness{Business: b, OwnerID: b.OwnerID, LeadCredits: b.LeadCredits})
}

type campaignRequest struct {
	Name string `json:"name"`
	claim.TargetFilter
}

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.Name == "" {
		fail(w, r, badRequest("name is required"))
		return
	}
	c, err := h.Claims.CreateCampaign(r.Context(), req.Name, req.TargetFilter)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := h.Claims.ListCampaigns(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if list == nil {
		list = []claim.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (h *Handler) sendCampaign(w http.ResponseWriter, r *http.Request) {
	res, err := h.Claims.SendCampaign(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
