package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline and API
type Metrics struct {
	// Ingestion metrics: rows by outcome (exact, fallback, missing)
	IngestRowsTotal   *prometheus.CounterVec
	IngestFetchErrors *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec

	// Snapshot metrics
	SnapshotRows         *prometheus.GaugeVec
	SnapshotFallbacks    prometheus.Counter
	SnapshotStaleSymbols *prometheus.GaugeVec

	// Signal metrics
	SignalActions  *prometheus.CounterVec
	PredictionProb prometheus.Histogram

	// External API metrics
	ExternalAPIRequestsTotal *prometheus.CounterVec
	ExternalAPIErrorsTotal   *prometheus.CounterVec
	ExternalAPIDuration      *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryTotal    *prometheus.CounterVec
	DBErrorsTotal   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// probBuckets are histogram buckets for probability outputs (0 to 1)
var probBuckets = []float64{0, 0.1, 0.2, 0.3, 0.35, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

// globalMetrics is the global metrics instance
var globalMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		IngestRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idx_signals",
				Subsystem: "ingest",
				Name:      "rows_total",
				Help:      "Price rows written, by date-match outcome (exact, fallback, missing)",
			},
			[]string{"stage", "outcome"},
		),
		IngestFetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idx_signals",
				Subsystem: "ingest",
				Name:      "fetch_errors_total",
				Help:      "Per-symbol fetch failures absorbed into absent values",
			},
			[]string{"stage"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "idx_signals",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stage runs in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"stage", "status"},
		),
		SnapshotRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "idx_signals",
				Subsystem: "snapshot",
				Name:      "rows",
				Help:      "Rows in the most recently built snapshot",
			},
			[]string{"as_of"},
		),
		SnapshotFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "idx_signals",
				Subsystem: "snapshot",
				Name:      "fallback_clones_total",
				Help:      "Snapshots produced by cloning a prior snapshot",
			},
		),
		SnapshotStaleSymbols: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "idx_signals",
				Subsystem: "snapshot",
				Name:      "stale_symbols",
				Help:      "Symbols whose price source date predates the as-of date",
			},
			[]string{"as_of"},
		),
		SignalActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idx_signals",
				Subsystem: "signal",
				Name:      "actions_total",
				Help:      "Signals emitted by action type",
			},
			[]string{"action"},
		),
		PredictionProb: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "idx_signals",
				Subsystem: "signal",
				Name:      "probability_up",
				Help:      "Distribution of classifier up-move probabilities",
				Buckets:   probBuckets,
			},
		),
		ExternalAPIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idx_signals",
				Subsystem: "external_api",
				Name:      "requests_total",
				Help:      "Total number of external API requests",
			},
			[]string{"service", "operation"},
		),
		ExternalAPIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idx_signals",
				Subsystem: "external_api",
				Name:      "errors_total",
				Help:      "Total number of external API errors",
			},
			[]string{"service", "operation", "error_type"},
		),
		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "idx_signals",
				Subsystem: "external_api",
				Name:      "duration_seconds",
				Help:      "Duration of external API calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"service", "operation"},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "idx_signals",
				Subsystem: "database",
				Name:      "query_duration_seconds",
				Help:      "Duration of database queries in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"operation", "table"},
		),
		DBQueryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idx_signals",
				Subsystem: "database",
				Name:      "queries_total",
				Help:      "Total number of database queries",
			},
			[]string{"operation", "table"},
		),
		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idx_signals",
				Subsystem: "database",
				Name:      "errors_total",
				Help:      "Total number of database errors",
			},
			[]string{"operation", "table"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idx_signals",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "idx_signals",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "idx_signals",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idx_signals",
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"service"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance, initializing it if needed
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		globalMetrics = NewMetrics(prometheus.NewRegistry())
	}
	return globalMetrics
}

// RecordIngestRow increments the row counter for a stage/outcome pair
func (m *Metrics) RecordIngestRow(stage, outcome string, n int) {
	m.IngestRowsTotal.WithLabelValues(stage, outcome).Add(float64(n))
}

// RecordFetchError counts one absorbed per-symbol fetch failure
func (m *Metrics) RecordFetchError(stage string) {
	m.IngestFetchErrors.WithLabelValues(stage).Inc()
}

// RecordStageDuration records how long a pipeline stage ran
func (m *Metrics) RecordStageDuration(stage, status string, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// RecordSnapshot records the shape of a freshly built snapshot
func (m *Metrics) RecordSnapshot(asOf string, rows, stale int, fallback bool) {
	m.SnapshotRows.WithLabelValues(asOf).Set(float64(rows))
	m.SnapshotStaleSymbols.WithLabelValues(asOf).Set(float64(stale))
	if fallback {
		m.SnapshotFallbacks.Inc()
	}
}

// RecordSignal counts an emitted signal and its probability
func (m *Metrics) RecordSignal(action string, probUp float64) {
	m.SignalActions.WithLabelValues(action).Inc()
	m.PredictionProb.Observe(probUp)
}

// RecordExternalAPIRequest increments the external API request counter
func (m *Metrics) RecordExternalAPIRequest(service, operation string) {
	m.ExternalAPIRequestsTotal.WithLabelValues(service, operation).Inc()
}

// RecordExternalAPIError increments the external API error counter
func (m *Metrics) RecordExternalAPIError(service, operation, errorType string) {
	m.ExternalAPIErrorsTotal.WithLabelValues(service, operation, errorType).Inc()
}

// RecordDBQuery records a database query with its duration
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration) {
	m.DBQueryTotal.WithLabelValues(operation, table).Inc()
	m.DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordDBError increments the database error counter
func (m *Metrics) RecordDBError(operation, table string) {
	m.DBErrorsTotal.WithLabelValues(operation, table).Inc()
}

// RecordHTTPRequest records an HTTP request with duration
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetCircuitBreakerState updates the circuit breaker state gauge
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitBreakerTrip counts a breaker opening
func (m *Metrics) RecordCircuitBreakerTrip(service string) {
	m.CircuitBreakerTrips.WithLabelValues(service).Inc()
}

// Timer measures elapsed time for observing into histograms
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a timer bound to this metrics instance
func (m *Metrics) NewTimer() *Timer {
	return &Timer{start: time.Now(), metrics: m}
}

// ObserveStage records the elapsed time as a stage duration
func (t *Timer) ObserveStage(stage, status string) {
	t.metrics.RecordStageDuration(stage, status, time.Since(t.start))
}

// ObserveExternalAPI records the elapsed time as an external API call
func (t *Timer) ObserveExternalAPI(service, operation string) {
	t.metrics.ExternalAPIDuration.WithLabelValues(service, operation).Observe(time.Since(t.start).Seconds())
}

// ObserveDB records the elapsed time as a database query
func (t *Timer) ObserveDB(operation, table string) {
	t.metrics.RecordDBQuery(operation, table, time.Since(t.start))
}

// Duration returns elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
