package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/domain/auth"
	"github.com/xenking/dumpster-directory/internal/domain/business"
)

type (
	userKey     struct{}
	tokenKey    struct{}
	businessKey struct{}
)

// admin requires an X-API-Key carrying the admin scope.
func (h *Handler) admin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.Keys.Authenticate(r.Context(), r.Header.Get("X-API-Key"))
		if err != nil {
			fail(w, r, auth.ErrUnauthorized)
			return
		}
		if !info.HasScope(auth.ScopeAdmin) {
			fail(w, r, &httpError{status: http.StatusForbidden, msg: "api key lacks admin scope"})
			return
		}
		ctx := zctx.With(r.Context(), zap.String("api_key", info.Name))
		next(w, r.WithContext(ctx))
	})
}

// dealer requires a Bearer session token.
func (h *Handler) dealer(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		user, err := h.Sessions.Authenticate(r.Context(), token)
		if err != nil {
			fail(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		ctx = context.WithValue(ctx, tokenKey{}, token)
		ctx = zctx.With(ctx, zap.String("user_id", user.ID))
		next(w, r.WithContext(ctx))
	})
}

// owner requires a dealer session whose user owns a claimed listing.
func (h *Handler) owner(next http.HandlerFunc) http.Handler {
	return h.dealer(func(w http.ResponseWriter, r *http.Request) {
		b, err := h.Store.GetByOwner(r.Context(), currentUser(r).ID)
		if err != nil {
			if errors.Is(err, business.ErrNotFound) {
				fail(w, r, &httpError{status: http.StatusForbidden, msg: "no claimed business"})
				return
			}
			fail(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), businessKey{}, b)
		ctx = zctx.With(ctx, zap.String("business_id", b.ID))
		next(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return strings.TrimSpace(v[len(prefix):])
	}
	return ""
}

func currentUser(r *http.Request) *auth.User {
	u, _ := r.Context().Value(userKey{}).(*auth.User)
	return u
}

func currentToken(r *http.Request) string {
	t, _ := r.Context().Value(tokenKey{}).(string)
	return t
}

func ownedBusiness(r *http.Request) *business.Business {
	b, _ := r.Context().Value(businessKey{}).(*business.Business)
	return b
}
