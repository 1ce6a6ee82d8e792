package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every Prometheus instrument the service emits.
type Collector struct {
	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Run execution
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
	queuedRuns   prometheus.Gauge
	webhookSends *prometheus.CounterVec

	// Threads and checkpoints
	threadTransitions  *prometheus.CounterVec
	checkpointsWritten *prometheus.CounterVec

	// KV store
	storeOperations *prometheus.CounterVec

	// Database
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers the service's instruments on reg.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of runs by terminal status",
		},
		[]string{"target", "status"},
	)
	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run duration from acceptance to terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"target"},
	)
	c.activeRuns = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of runs currently executing",
		},
	)
	c.queuedRuns = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_runs",
			Help:      "Number of runs waiting in per-thread queues",
		},
	)
	c.webhookSends = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	c.threadTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_status_transitions_total",
			Help:      "Thread status transitions",
		},
		[]string{"from", "to"},
	)
	c.checkpointsWritten = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_written_total",
			Help:      "Checkpoints appended by write source",
		},
		[]string{"source"},
	)

	c.storeOperations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "KV store operations by outcome",
		},
		[]string{"operation", "status"},
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Open database connections",
		},
		[]string{"database"},
	)
	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one handled HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRun records one run reaching a terminal status.
func (c *Collector) RecordRun(target, status string, duration time.Duration) {
	c.runsTotal.WithLabelValues(target, status).Inc()
	c.runDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// SetSchedulerLoad updates the live run gauges.
func (c *Collector) SetSchedulerLoad(active, queued int) {
	c.activeRuns.Set(float64(active))
	c.queuedRuns.Set(float64(queued))
}

// RecordWebhookDelivery records one webhook attempt outcome.
func (c *Collector) RecordWebhookDelivery(outcome string) {
	c.webhookSends.WithLabelValues(outcome).Inc()
}

// RecordThreadTransition records one thread status transition.
func (c *Collector) RecordThreadTransition(from, to string) {
	c.threadTransitions.WithLabelValues(from, to).Inc()
}

// RecordCheckpoint records one checkpoint append.
func (c *Collector) RecordCheckpoint(source string) {
	c.checkpointsWritten.WithLabelValues(source).Inc()
}

// RecordStoreOperation records one KV store operation.
func (c *Collector) RecordStoreOperation(operation, status string) {
	c.storeOperations.WithLabelValues(operation, status).Inc()
}

// RecordDBConnections updates the connection pool gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
