package handler

import (
	"net/http"
	"time"

	"github.com/xenking/dumpster-directory/internal/domain/quote"
)

// submittedQuote is all a customer learns about their stored quote.
type submittedQuote struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) submitQuote(w http.ResponseWriter, r *http.Request) {
	var req quote.SubmitRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		fail(w, r, err)
		return
	}
	q, err := h.Quotes.Submit(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	// Spam is accepted silently.
	status := string(q.Status)
	if q.Status == quote.StatusSpam {
		status = string(quote.StatusNew)
	}
	writeJSON(w, http.StatusCreated, submittedQuote{ID: q.ID, Status: status, CreatedAt: q.CreatedAt})
}

func (h *Handler) lookupZip(w http.ResponseWriter, r *http.Request) {
	loc, err := h.Locator.Lookup(r.Context(), r.PathValue("zip"))
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) listQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := quote.Filter{
		BusinessID: q.Get("business_id"),
		Status:     quote.Status(q.Get("status")),
		State:      q.Get("state"),
		City:       q.Get("city"),
	}
	if f.Status != "" && !f.Status.Valid() {
		fail(w, r, badRequest("unknown status %q", f.Status))
		return
	}
	if s := q.Get("since"); s != "" {
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

	quotes, err := h.Quotes.List(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if quotes == nil {
		quotes = []quote.Quote{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": quotes})
}

type statusChange struct {
	Status quote.Status `json:"status"`
}

func (h *Handler) updateQuote(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, quote.ActorAdmin)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, actor quote.Actor) {
	var req statusChange
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		fail(w, r, err)
		return
	}
	if !req.Status.Valid() {
		fail(w, r, badRequest("unknown status %q", req.Status))
		return
	}
	q, err := h.Quotes.UpdateStatus(r.Context(), r.PathValue("id"), req.Status, actor)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// parseSince accepts RFC 3339 timestamps and plain dates.
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, badRequest("since must be a date or RFC 3339 timestamp")
}
