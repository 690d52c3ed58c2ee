package httpmiddleware

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InjectLogger injects lg into the request context.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(zctx.Base(r.Context(), lg)))
		})
	}
}

// LogRequests logs every request with the context logger once it completes.
func LogRequests(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			lg := zctx.From(ctx)

			fields := []zap.Field{
				zap.String("http.method", r.Method),
				zap.String("http.path", r.URL.Path),
			}
			if route, ok := find(r); ok {
				fields = append(fields, zap.String("http.route", route))
			}
			if id := RequestIDFromContext(ctx); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			if span := trace.SpanContextFromContext(ctx); span.HasTraceID() {
				fields = append(fields, zap.String("trace_id", span.TraceID().String()))
			}

			m := httpsnoop.CaptureMetrics(next, w, r)
			fields = append(fields,
				zap.Int("http.status", m.Code),
				zap.Int64("http.response_size", m.Written),
				zap.Duration("duration", m.Duration),
			)

			switch {
			case m.Code >= http.StatusInternalServerError:
				lg.Error("Request", fields...)
			case m.Code >= http.StatusBadRequest:
				lg.Warn("Request", fields...)
			default:
				lg.Debug("Request", fields...)
			}
		})
	}
}
