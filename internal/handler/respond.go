package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/domain/auth"
	"github.com/xenking/dumpster-directory/internal/domain/billing"
	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/domain/claim"
	"github.com/xenking/dumpster-directory/internal/domain/lead"
	"github.com/xenking/dumpster-directory/internal/domain/quote"
	"github.com/xenking/dumpster-directory/internal/geo"
	"github.com/xenking/dumpster-directory/pkg/httpmiddleware"
)

// httpError carries an explicit status.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body of at most limit bytes into dst.
func decode(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("request body exceeds %d bytes", tooLarge.Limit)
		}
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("malformed JSON: %v", err)
	}
	return nil
}

// fail maps err to a status and writes the error body. Unexpected errors are
// logged and answered without detail.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, msg)
}

func classify(err error) (int, string) {
	var (
		verrs      validator.ValidationErrors
		bizErr     *business.ValidationError
		transition *quote.TransitionError
		herr       *httpError
	)
	switch {
	case errors.As(err, &herr):
		return herr.status, herr.msg
	case errors.As(err, &bizErr):
		return http.StatusBadRequest, bizErr.Error()
	case errors.As(err, &verrs):
		return http.StatusBadRequest, validationMessage(verrs)
	case errors.Is(err, quote.ErrContactRequired),
		errors.Is(err, lead.ErrInvalidCredits),
		errors.Is(err, billing.ErrInvalidPlan),
		errors.Is(err, geo.ErrInvalidZip):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()

	case errors.Is(err, lead.ErrInsufficientCredits):
		return http.StatusPaymentRequired, err.Error()

	case errors.Is(err, lead.ErrNotVisible),
		errors.Is(err, lead.ErrShared),
		errors.As(err, &transition):
		return http.StatusForbidden, err.Error()

	case errors.Is(err, business.ErrNotFound),
		errors.Is(err, quote.ErrNotFound),
		errors.Is(err, billing.ErrPlanNotFound),
		errors.Is(err, billing.ErrNoSubscription),
		errors.Is(err, claim.ErrCampaignNotFound),
		errors.Is(err, claim.ErrInvalidToken),
		errors.Is(err, geo.ErrNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, business.ErrSlugTaken),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, billing.ErrAlreadySubscribed),
		errors.Is(err, claim.ErrAlreadyClaimed),
		errors.Is(err, claim.ErrOwnsBusiness):
		return http.StatusConflict, err.Error()

	case errors.Is(err, quote.ErrBusinessNotFound),
		errors.Is(err, billing.ErrPlanInactive),
		errors.Is(err, claim.ErrNoTargets):
		return http.StatusUnprocessableEntity, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func validationMessage(verrs validator.ValidationErrors) string {
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, badRequest("%s must be an integer", name)
	}
	return v, nil
}

// queryBool treats "1", "true" and "yes" as true.
func queryBool(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
