package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector records HTTP metrics for a service on its own registry.
type MetricsCollector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetricsCollector registers HTTP metrics on a fresh registry that also
// gathers from the default registry, where package-level promauto metrics live.
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	prefix := strings.ReplaceAll(serviceName, "-", "_")
	mc := &MetricsCollector{registry: prometheus.NewRegistry()}

	mc.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})
	mc.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: prefix + "_service_info",
		Help: "Service information",
	}, []string{"version", "commit"})

	mc.registry.MustRegister(mc.httpRequestsTotal, mc.httpRequestDuration, info)
	info.WithLabelValues(version, commit).Set(1)
	return mc
}

// MetricsMiddleware records count and latency per route template.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		mc.httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		mc.httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves this collector's registry together with the default one.
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(prometheus.Gatherers{mc.registry, prometheus.DefaultGatherer}, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
