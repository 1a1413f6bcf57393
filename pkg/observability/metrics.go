package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Config resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram
	ConfigVersionsTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Token metrics
	TokenValidationsTotal *prometheus.CounterVec
	TokensIssuedTotal     *prometheus.CounterVec
	TokensRevokedTotal    prometheus.Counter

	// Authorization metrics
	AuthorizationsTotal *prometheus.CounterVec

	// Provisioning metrics
	ProvisioningRunsTotal   *prometheus.CounterVec
	ProvisioningDuration    prometheus.Histogram
	ProvisioningLockWait    prometheus.Histogram
	ProvisioningBusyTotal   prometheus.Counter

	// Audit metrics
	AuditAppendsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Redis metrics
	RedisCommandsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gantry_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gantry_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_store_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "store", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gantry_store_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "store"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_store_errors_total",
				Help: "Total number of store errors",
			},
			[]string{"operation", "store"},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_config_resolutions_total",
				Help: "Total number of effective configuration resolutions",
			},
			[]string{"source"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gantry_config_resolution_duration_seconds",
				Help:    "Effective configuration resolution duration in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		ConfigVersionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gantry_config_versions_written_total",
				Help: "Total number of configuration versions written",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		TokenValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_token_validations_total",
				Help: "Total number of token validations",
			},
			[]string{"result"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_tokens_issued_total",
				Help: "Total number of tokens issued",
			},
			[]string{"kind"},
		),
		TokensRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gantry_tokens_revoked_total",
				Help: "Total number of tokens revoked",
			},
		),

		AuthorizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_authorizations_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"permission", "decision"},
		),

		ProvisioningRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_provisioning_runs_total",
				Help: "Total number of provisioning runs by outcome",
			},
			[]string{"outcome"},
		),
		ProvisioningDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gantry_provisioning_duration_seconds",
				Help:    "Provisioning run duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		ProvisioningLockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gantry_provisioning_lock_wait_seconds",
				Help:    "Time spent waiting for the provisioning scope lock",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10},
			},
		),
		ProvisioningBusyTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gantry_provisioning_busy_total",
				Help: "Total number of provisioning requests rejected as busy",
			},
		),

		AuditAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_audit_appends_total",
				Help: "Total number of audit entries appended",
			},
			[]string{"action"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gantry_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gantry_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_redis_commands_total",
				Help: "Total number of Redis commands",
			},
			[]string{"command", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.ConfigVersionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.TokenValidationsTotal,
		m.TokensIssuedTotal,
		m.TokensRevokedTotal,
		m.AuthorizationsTotal,
		m.ProvisioningRunsTotal,
		m.ProvisioningDuration,
		m.ProvisioningLockWait,
		m.ProvisioningBusyTotal,
		m.AuditAppendsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RedisCommandsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// CollectDBStats copies sql.DB pool gauges into the metrics set.
func (m *Metrics) CollectDBStats(open, idle int) {
	m.DBConnectionsActive.Set(float64(open))
	m.DBConnectionsIdle.Set(float64(idle))
}
