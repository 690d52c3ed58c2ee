package httpmiddleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFromContext returns the request ID, or "" outside RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID assigns every request an identifier, taken in order from a
// well-formed X-Request-ID, the trace ID of a W3C traceparent, or a new
// UUID. The ID is echoed in X-Request-ID and added to the context logger.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := requestIDFor(r)
			w.Header().Set(requestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			ctx = zctx.With(ctx, zap.String("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestIDFor(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); printable(id, 128) {
		return id
	}
	if tid, ok := traceparentID(r.Header.Get("traceparent")); ok {
		return tid
	}
	return uuid.New().String()
}

// traceparentID extracts the trace ID of a version 00 traceparent header.
func traceparentID(h string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(h), "-")
	if len(parts) != 4 || parts[0] != "00" || len(parts[2]) != 16 || len(parts[3]) != 2 {
		return "", false
	}
	tid, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return "", false
	}
	return tid.String(), true
}

// printable accepts 1 to limit bytes of printable ASCII.
func printable(s string, limit int) bool {
	if s == "" || len(s) > limit {
		return false
	}
	for i := range len(s) {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}
