package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/domain/billing"
	"github.com/xenking/dumpster-directory/pkg/httpmiddleware"
)

// maxWebhookBytes matches the gateway's documented payload ceiling.
const maxWebhookBytes = 1 << 20

func (h *Handler) listActivePlans(w http.ResponseWriter, r *http.Request) {
	h.writePlans(w, r, true)
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	h.writePlans(w, r, false)
}

func (h *Handler) writePlans(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	plans, err := h.Billing.ListPlans(r.Context(), activeOnly)
	if err != nil {
		fail(w, r, err)
		return
	}
	if plans == nil {
		plans = []billing.Plan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": plans})
}

func (h *Handler) upsertPlan(w http.ResponseWriter, r *http.Request) {
	var p billing.Plan
	if err := decode(w, r, h.cfg.MaxBodyBytes, &p); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.Billing.UpsertPlan(r.Context(), &p); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// stripeWebhook serves both webhook paths. Signature failures get 400 so the
// gateway stops retrying; processing failures get 500 so it retries.
func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		fail(w, r, badRequest("unreadable body"))
		return
	}

	ev, err := h.Verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		lg.Warn("Rejected webhook", zap.Error(err))
		fail(w, r, badRequest("invalid signature"))
		return
	}

	if err := h.Events.ProcessEvent(r.Context(), ev); err != nil {
		if errors.Is(err, billing.ErrEventNotReady) {
			lg.Warn("Webhook deferred", zap.String("event_id", ev.ID), zap.Error(err))
			httpmiddleware.WriteError(w, http.StatusInternalServerError, "event not ready, retry later")
			return
		}
		fail(w, r, errors.Wrapf(err, "webhook %s", ev.ID))
		return
	}
	lg.Debug("Webhook processed", zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
