// Package observability wires request metrics and tracing for
// timeline-engine. Unlike the multi-service mesh this pattern was
// written for, a single-node personal database has nowhere to ship
// spans to by default, so no exporter is attached; the tracer provider
// exists so request-scoped spans are available to anything that wants
// them (and so an operator can later attach an exporter without
// touching handler code).
package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_http_requests_total",
			Help: "Total HTTP requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timeline_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	ingestionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_ingestion_runs_total",
			Help: "Completed ingestion runs by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	ingestionEntitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_ingestion_entities_total",
			Help: "Entities upserted by ingestion runs, by source.",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, ingestionRunsTotal, ingestionEntitiesTotal)
}

// Handler serves the /metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }

// RecordIngestionRun increments the ingestion counters for a completed run.
func RecordIngestionRun(source, outcome string, entityCount int) {
	ingestionRunsTotal.WithLabelValues(source, outcome).Inc()
	if entityCount > 0 {
		ingestionEntitiesTotal.WithLabelValues(source).Add(float64(entityCount))
	}
}

// Tracer builds a process-local tracer provider with no attached exporter.
func Tracer(serviceName string) (oteltrace.Tracer, func()) {
	res, _ := resource.New(context.Background(), resource.WithAttributes(attribute.String("service.name", serviceName)))
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	shutdown := func() { _ = tp.Shutdown(context.Background()) }
	return otel.Tracer(serviceName), shutdown
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics and opens a span per request. route
// should be a low-cardinality label (the matched chi route pattern, not
// the raw path).
func Middleware(tracer oteltrace.Tracer, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracer.Start(r.Context(), r.Method+" "+route)
			span.SetAttributes(attribute.String("http.method", r.Method), attribute.String("http.route", route))

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", rw.status))
			span.End()
			requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
			requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
