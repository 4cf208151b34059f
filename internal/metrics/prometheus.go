package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "casino_ledger"

// PrometheusMetrics contains all Prometheus collectors for the ledger service
type PrometheusMetrics struct {
	// Ingestion metrics
	LogsReceivedTotal   *prometheus.CounterVec
	DecodeFailuresTotal *prometheus.CounterVec
	LedgerInsertsTotal  *prometheus.CounterVec
	ReorgRemovalsTotal  prometheus.Counter
	LatestBlockSeen     prometheus.Gauge

	// Subscription metrics
	SubscriptionState prometheus.Gauge
	ReconnectsTotal   prometheus.Counter

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all collectors and registers them on reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		LogsReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logs_received_total",
				Help:      "Total number of contract logs received, by outcome",
			},
			[]string{"outcome"},
		),

		DecodeFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_failures_total",
				Help:      "Total number of logs that failed to decode, by reason",
			},
			[]string{"reason"},
		),

		LedgerInsertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_inserts_total",
				Help:      "Total number of ledger insert attempts, by result",
			},
			[]string{"result"},
		),

		ReorgRemovalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reorg_removed_logs_total",
				Help:      "Total number of logs retracted by chain reorganizations",
			},
		),

		LatestBlockSeen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "latest_block_seen",
				Help:      "Block number of the most recent log received",
			},
		),

		SubscriptionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subscription_state",
				Help:      "Upstream subscription state (0=disconnected, 1=connecting, 2=subscribed)",
			},
		),

		ReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscription_reconnects_total",
				Help:      "Total number of upstream reconnect attempts",
			},
		),

		DatabaseOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "database_operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		DatabaseOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "database_operation_duration_seconds",
				Help:      "Duration of database operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Application uptime in seconds",
			},
		),

		ComponentHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_health",
				Help:      "Health status of components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current heap allocation in bytes",
			},
		),

		GoroutineCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines",
				Help:      "Current number of goroutines",
			},
		),
	}

	reg.MustRegister(
		m.LogsReceivedTotal,
		m.DecodeFailuresTotal,
		m.LedgerInsertsTotal,
		m.ReorgRemovalsTotal,
		m.LatestBlockSeen,
		m.SubscriptionState,
		m.ReconnectsTotal,
		m.DatabaseOperationsTotal,
		m.DatabaseOperationDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ApplicationUptime,
		m.ComponentHealth,
		m.MemoryUsage,
		m.GoroutineCount,
	)

	return m
}

// RecordLogReceived counts a log by what happened to it (recorded, duplicate, skipped, decode_error, persist_error, removed)
func (m *PrometheusMetrics) RecordLogReceived(outcome string) {
	m.LogsReceivedTotal.WithLabelValues(outcome).Inc()
}

// RecordDecodeFailure counts a decode failure
func (m *PrometheusMetrics) RecordDecodeFailure(reason string) {
	m.DecodeFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordLedgerInsert counts an insert attempt
func (m *PrometheusMetrics) RecordLedgerInsert(result string) {
	m.LedgerInsertsTotal.WithLabelValues(result).Inc()
}

// RecordReorgRemoval counts a log retracted by a reorg
func (m *PrometheusMetrics) RecordReorgRemoval() {
	m.ReorgRemovalsTotal.Inc()
}

// UpdateLatestBlockSeen updates the latest block gauge
func (m *PrometheusMetrics) UpdateLatestBlockSeen(blockNumber uint64) {
	m.LatestBlockSeen.Set(float64(blockNumber))
}

// UpdateSubscriptionState sets the subscription state gauge
func (m *PrometheusMetrics) UpdateSubscriptionState(state int) {
	m.SubscriptionState.Set(float64(state))
}

// RecordReconnect counts a reconnect attempt
func (m *PrometheusMetrics) RecordReconnect() {
	m.ReconnectsTotal.Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates application uptime
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates component health status
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates memory usage
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates goroutine count
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
