package httpmiddleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides the OpenTelemetry providers used for instrumentation.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
	TextMapPropagator() propagation.TextMapPropagator
}

// Instrument wraps handlers with otelhttp. Spans are named after the matched
// route pattern.
func Instrument(serviceName string, find RouteFinder, m Telemetry) Middleware {
	return func(h http.Handler) http.Handler {
		return otelhttp.NewHandler(h, "",
			otelhttp.WithPropagators(m.TextMapPropagator()),
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithServerName(serviceName),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				if route, ok := find(r); ok {
					return route
				}
				return operation
			}),
		)
	}
}

// Labeler adds the matched route to the current span and to otelhttp
// metric labels.
func Labeler(find RouteFinder) Middleware {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := find(r)
			if !ok {
				h.ServeHTTP(w, r)
				return
			}

			attr := attribute.String("http.route", route)
			trace.SpanFromContext(r.Context()).SetAttributes(attr)
			if labeler, ok := otelhttp.LabelerFromContext(r.Context()); ok {
				labeler.Add(attr)
			}
			h.ServeHTTP(w, r)
		})
	}
}
