package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector handles service-level Prometheus metrics. Engine internals
// register their own collectors; this covers the HTTP surface and the
// database pool.
type MetricsCollector struct {
	serviceName string

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	dbConnectionsActive *prometheus.GaugeVec
}

// NewMetricsCollector creates a collector registered against reg. Pass nil to
// use the default registerer.
func NewMetricsCollector(serviceName string, reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &MetricsCollector{
		serviceName: serviceName,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code", "service"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "service"},
		),
		dbConnectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
			[]string{"database", "service"},
		),
	}

	reg.MustRegister(m.httpRequestsTotal, m.httpRequestDuration, m.dbConnectionsActive)
	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, m.serviceName).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordDBConnections records the active connection count for a database
func (m *MetricsCollector) RecordDBConnections(database string, activeConnections int) {
	m.dbConnectionsActive.WithLabelValues(database, m.serviceName).Set(float64(activeConnections))
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}

// RequestLogger receives one line per completed HTTP request
type RequestLogger interface {
	HTTPRequest(method, path, clientIP string, statusCode int, durationMs int64)
}

// HTTPMiddleware records request metrics and logs each request
func (m *MetricsCollector) HTTPMiddleware(log RequestLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)
			statusCode := strconv.Itoa(wrapper.statusCode)

			m.RecordHTTPRequest(r.Method, r.URL.Path, statusCode, duration)
			if log != nil {
				log.HTTPRequest(r.Method, r.URL.Path, r.RemoteAddr, wrapper.statusCode, duration.Milliseconds())
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
