package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/bizcsv"
	"github.com/xenking/dumpster-directory/internal/domain/business"
)

// listing is the public view of a business.
type listing struct {
	*business.Business
	// Featured reports active paid placement, not the stored flag.
	Featured      bool     `json:"featured"`
	DistanceMiles *float64 `json:"distance_miles,omitempty"`
}

func (h *Handler) view(b *business.Business, distance *float64) listing {
	return listing{Business: b, Featured: b.IsFeatured(h.now()), DistanceMiles: distance}
}

type listingPage struct {
	Items  []listing `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

func (h *Handler) listBusinesses(w http.ResponseWriter, r *http.Request) {
	f, err := h.searchFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	snap, err := h.Directory.Snapshot(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "directory snapshot"))
		return
	}

	f = f.Normalize()
	results, total := snap.Search(f, h.now())
	page := listingPage{Items: make([]listing, len(results)), Total: total, Limit: f.Limit, Offset: f.Offset}
	for i, res := range results {
		page.Items[i] = h.view(res.Business, res.Distance)
	}
	writeJSON(w, http.StatusOK, page)
}

// searchFilter reads the listing query. near_zip is resolved to coordinates.
func (h *Handler) searchFilter(r *http.Request) (business.Filter, error) {
	q := r.URL.Query()
	f := business.Filter{
		Query:        q.Get("q"),
		City:         q.Get("city"),
		State:        q.Get("state"),
		Zip:          q.Get("zip"),
		Category:     q.Get("category"),
		Service:      q.Get("service"),
		FeaturedOnly: queryBool(r, "featured"),
	}
	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		return f, err
	}
	if s := q.Get("radius"); s != "" {
		if f.RadiusMiles, err = strconv.ParseFloat(s, 64); err != nil || f.RadiusMiles < 0 {
			return f, badRequest("radius must be a positive number")
		}
	}
	if zip := q.Get("near_zip"); zip != "" {
		loc, err := h.Locator.Lookup(r.Context(), zip)
		if err != nil {
			return f, err
		}
		f.Near = &business.Point{Lat: loc.Lat, Lng: loc.Lng}
	}
	return f, nil
}

func (h *Handler) getBusiness(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Directory.Snapshot(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "directory snapshot"))
		return
	}
	key := r.PathValue("id")
	b, ok := snap.ByID(key)
	if !ok {
		b, ok = snap.BySlug(key)
	}
	if !ok {
		fail(w, r, business.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.view(b, nil))
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Directory.Snapshot(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "directory snapshot"))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": snap.Categories()})
}

// adminBusiness exposes the owner and credit balance hidden from the public.
type adminBusiness struct {
	*business.Business
	OwnerID     string `json:"owner_id,omitempty"`
	LeadCredits int    `json:"lead_credits"`
}

func (h *Handler) createBusiness(w http.ResponseWriter, r *http.Request) {
	var b business.Business
	if err := decode(w, r, h.cfg.MaxBodyBytes, &b); err != nil {
		fail(w, r, err)
		return
	}
	// Ownership and paid state change only through claims and billing.
	b.ID, b.OwnerID, b.Claimed, b.LeadCredits = "", "", false, 0
	b.Featured, b.FeaturedUntil = false, nil

	if err := h.Businesses.Create(r.Context(), &b); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, adminBusiness{Business: &b, OwnerID: b.OwnerID, LeadCredits: b.LeadCredits})
}

func (h *Handler) updateBusiness(w http.ResponseWriter, r *http.Request) {
	var p business.Patch
	if err := decode(w, r, h.cfg.MaxBodyBytes, &p); err != nil {
		fail(w, r, err)
		return
	}
	b, err := h.Businesses.Update(r.Context(), r.PathValue("id"), p)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminBusiness{Business: b, OwnerID: b.OwnerID, LeadCredits: b.LeadCredits})
}

func (h *Handler) deleteBusiness(w http.ResponseWriter, r *http.Request) {
	if err := h.Businesses.Delete(r.Context(), r.PathValue("id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) exportBusinesses(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.List(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "list businesses"))
		return
	}

	compress := queryBool(r, "gzip")
	name := "businesses-" + h.now().UTC().Format("20060102") + ".csv"
	if compress {
		name += ".gz"
		w.Header().Set("Content-Type", "application/gzip")
	} else {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	cw := bizcsv.NewWriter(w, compress)
	for i := range list {
		if err := cw.Write(&list[i]); err != nil {
			// Headers are sent; the truncated body is all the client gets.
			zctx.From(r.Context()).Error("Export aborted", zap.Error(err), zap.Int("written", i))
			return
		}
	}
	if err := cw.Close(); err != nil {
		zctx.From(r.Context()).Error("Export flush failed", zap.Error(err))
	}
}

// importReport summarizes an upload.
type importReport struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	DryRun  bool     `json:"dry_run"`
	Errors  []string `json:"errors,omitempty"`
}

const maxReportedErrors = 50

func (r *importReport) fail(msg string) {
	r.Skipped++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// importBusinesses upserts an uploaded CSV or JSON document. A gzip
// Content-Encoding is decompressed.
func (h *Handler) importBusinesses(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = http.MaxBytesReader(w, r.Body, h.cfg.MaxImportBytes)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := pgzip.NewReader(body)
		if err != nil {
			fail(w, r, badRequest("invalid gzip body"))
			return
		}
		defer func() { _ = zr.Close() }()
		body = zr
	}

	format := bizcsv.FormatCSV
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") || r.URL.Query().Get("format") == "json" {
		format = bizcsv.FormatJSON
	}
	parsed, err := bizcsv.Read(body, format)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, r, &httpError{status: http.StatusRequestEntityTooLarge, msg: "upload too large"})
			return
		}
		fail(w, r, badRequest("unreadable upload: %v", err))
		return
	}

	rep := importReport{DryRun: queryBool(r, "dry_run")}
	for _, rowErr := range parsed.Errors {
		rep.fail(rowErr.Error())
	}
	for i := range parsed.Businesses {
		b := &parsed.Businesses[i]
		b.Normalize()
		if err := b.Validate(); err != nil {
			rep.fail(fmt.Sprintf("%s: %v", b.Name, err))
			continue
		}
		if rep.DryRun {
			rep.Created++
			continue
		}
		created, err := h.Store.Upsert(r.Context(), b)
		if err != nil {
			fail(w, r, errors.Wrapf(err, "upsert %q", b.Slug))
			return
		}
		if created {
			rep.Created++
		} else {
			rep.Updated++
		}
	}

	if !rep.DryRun && rep.Created+rep.Updated > 0 {
		h.Directory.Invalidate()
	}
	zctx.From(r.Context()).Info("Businesses imported",
		zap.Int("created", rep.Created),
		zap.Int("updated", rep.Updated),
		zap.Int("skipped", rep.Skipped),
		zap.Bool("dry_run", rep.DryRun),
	)
	writeJSON(w, http.StatusOK, rep)
}

type creditGrant struct {
	Credits int    `json:"credits"`
	Reason  string `json:"reason"`
}

func (h *Handler) grantCredits(w http.ResponseWriter, r *http.Request) {
	var req creditGrant
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		fail(w, r, err)
		return
	}
	balance, err := h.Leads.Grant(r.Context(), r.PathValue("id"), req.Credits, req.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"lead_credits": balance})
}

func (h *Handler) invalidateCache(w http.ResponseWriter, _ *http.Request) {
	h.Directory.Invalidate()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":       "reload scheduled",
		"requested_at": h.now().UTC().Format(time.RFC3339),
	})
}
