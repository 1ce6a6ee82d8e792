package api

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/api/handlers"
	"github.com/BaSui01/stateflow/internal/metrics"
	"github.com/BaSui01/stateflow/scheduler"
	"github.com/BaSui01/stateflow/store"
	"github.com/BaSui01/stateflow/thread"
)

// RouterOptions carries the engine components the router exposes.
type RouterOptions struct {
	Registry  *thread.Registry
	Scheduler *scheduler.Scheduler
	Store     store.Store

	// Metrics, when set, records per-request counters and latencies.
	Metrics *metrics.Collector

	// HealthChecks are registered as readiness probes.
	HealthChecks []handlers.HealthCheck
}

// NewRouter assembles the versioned API routes over the engine.
func NewRouter(opts RouterOptions, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	handlers.NewThreadHandler(opts.Registry, logger).RegisterRoutes(mux)
	handlers.NewRunHandler(opts.Scheduler, logger).RegisterRoutes(mux)
	handlers.NewStoreHandler(opts.Store, logger).RegisterRoutes(mux)

	health := handlers.NewHealthHandler(logger)
	for _, check := range opts.HealthChecks {
		health.RegisterCheck(check)
	}
	health.RegisterRoutes(mux)

	mux.HandleFunc("GET /api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteSuccess(w, opts.Scheduler.Stats())
	})

	var handler http.Handler = mux
	handler = requestLogger(handler, logger)
	handler = requestTracing(handler)
	if opts.Metrics != nil {
		handler = requestMetrics(handler, opts.Metrics)
	}
	return handler
}

// requestTracing opens a server span per request on the global tracer
// provider. When telemetry is disabled the noop provider makes this free.
func requestTracing(next http.Handler) http.Handler {
	tracer := otel.Tracer("github.com/BaSui01/stateflow/api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		rw := handlers.NewResponseWriter(w)
		next.ServeHTTP(rw, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rw.StatusCode))
		if rw.StatusCode >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
		}
	})
}

// requestMetrics records request counts and latencies by matched route
// pattern, keeping label cardinality bounded.
func requestMetrics(next http.Handler, collector *metrics.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := handlers.NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		collector.RecordHTTPRequest(r.Method, pattern, rw.StatusCode, time.Since(start))
	})
}

func requestLogger(next http.Handler, logger *zap.Logger) http.Handler {
	accessLog := logger.With(zap.String("component", "http_access"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := handlers.NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		accessLog.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.StatusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
