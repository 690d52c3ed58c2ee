// Package httpmiddleware provides net/http middlewares shared by the API
// server: recovery, CORS, rate limiting, request IDs, logging and tracing.
package httpmiddleware

import "net/http"

// Middleware is a net/http middleware.
type Middleware = func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder returns the registered pattern that serves r.
type RouteFinder func(r *http.Request) (string, bool)

// MakeRouteFinder creates a RouteFinder for a ServeMux.
func MakeRouteFinder(mux *http.ServeMux) RouteFinder {
	return func(r *http.Request) (string, bool) {
		_, pattern := mux.Handler(r)
		return pattern, pattern != ""
	}
}
