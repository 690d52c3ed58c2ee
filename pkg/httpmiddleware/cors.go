package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists permitted origins. Empty or "*" allows any origin.
	// An entry like "https://*.example.com" allows every subdomain of
	// example.com over https, but not example.com itself.
	AllowOrigins []string

	// AllowMethods defaults to GET, POST, PUT, PATCH, DELETE, OPTIONS.
	AllowMethods []string

	// AllowHeaders lists permitted request headers. When empty, preflights
	// echo Access-Control-Request-Headers.
	AllowHeaders []string

	// ExposeHeaders lists response headers readable by the browser.
	ExposeHeaders []string

	// AllowCredentials permits cookies and Authorization. A wildcard origin is
	// then answered with the request origin, since browsers reject "*".
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header; negative sends "0".
	MaxAge int
}

type corsPolicy struct {
	any         bool
	exact       map[string]string // lowercase -> configured spelling
	suffixes    []originSuffix
	credentials bool

	methods string
	headers string
	expose  string
	maxAge  string
}

// originSuffix matches scheme://<anything>.domain.
type originSuffix struct {
	scheme string
	domain string // with leading dot
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		any:         len(cfg.AllowOrigins) == 0,
		exact:       make(map[string]string, len(cfg.AllowOrigins)),
		credentials: cfg.AllowCredentials,
		methods:     strings.Join(cfg.AllowMethods, ", "),
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		expose:      strings.Join(cfg.ExposeHeaders, ", "),
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			p.any = true
			continue
		}
		if scheme, rest, ok := strings.Cut(o, "://*."); ok {
			p.suffixes = append(p.suffixes, originSuffix{
				scheme: strings.ToLower(scheme),
				domain: "." + strings.ToLower(rest),
			})
			continue
		}
		p.exact[strings.ToLower(o)] = o
	}
	if p.methods == "" {
		p.methods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	switch {
	case cfg.MaxAge > 0:
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		p.maxAge = "0"
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when it is not permitted.
func (p *corsPolicy) allowOrigin(origin string) string {
	if p.any {
		if p.credentials {
			return origin
		}
		return "*"
	}
	lower := strings.ToLower(origin)
	if o, ok := p.exact[lower]; ok {
		return o
	}
	for _, s := range p.suffixes {
		scheme, host, ok := strings.Cut(lower, "://")
		if ok && scheme == s.scheme && len(host) > len(s.domain) && strings.HasSuffix(host, s.domain) {
			return origin
		}
	}
	return ""
}

// varies reports whether the response depends on the Origin header.
func (p *corsPolicy) varies() bool {
	return !p.any || p.credentials
}

func (p *corsPolicy) preflight(w http.ResponseWriter, r *http.Request, allow string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if allow != "" {
		h.Set("Access-Control-Allow-Origin", allow)
		h.Set("Access-Control-Allow-Methods", p.methods)
		switch {
		case p.headers != "":
			h.Set("Access-Control-Allow-Headers", p.headers)
		case r.Header.Get("Access-Control-Request-Headers") != "":
			h.Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
		}
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *corsPolicy) actual(w http.ResponseWriter, allow string) {
	h := w.Header()
	if p.varies() {
		h.Add("Vary", "Origin")
	}
	if allow == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allow)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.expose != "" {
		h.Set("Access-Control-Expose-Headers", p.expose)
	}
}

// CORS handles Cross-Origin Resource Sharing. Exact origins match
// case-insensitively and are echoed as configured. Preflights are OPTIONS
// requests carrying Access-Control-Request-Method and never reach next.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				if p.varies() {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allow := p.allowOrigin(origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, allow)
				return
			}
			p.actual(w, allow)
			next.ServeHTTP(w, r)
		})
	}
}
