package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "pegasus"
	unmatchedRoute   = "unmatched"
)

var (
	// httpReqs counts requests by method, route, status and caller kind
	// ("anonymous" or the caller's role).
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status", "caller"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			// Interactions wait on upstream generation, so the tail is long.
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_inflight",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	// Generated images come back inline as data URIs, hence the MiB buckets.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_response_size_bytes",
			Help:      "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 1 << 10, 5 << 10, 25 << 10, 100 << 10,
				500 << 10, 1 << 20, 2 << 20, 5 << 20, 10 << 20,
			},
		},
		[]string{"method", "path"},
	)

	panicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_panics_total",
			Help:      "Handler panics caught by Recovery.",
		},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		},
		[]string{"caller"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, rateLimited, panicsTotal)
}

// Metrics instruments requests with Prometheus. The path label is the
// registered route (c.FullPath()); requests that matched no route share the
// "unmatched" label so scanners cannot blow up label cardinality.
// The caller label is read after the chain has run, so it reflects the
// session resolved by Authenticate wherever Metrics sits in the chain.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status()), callerLabel(c)).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

func callerLabel(c *gin.Context) string {
	if a := ActorFrom(c); a != nil {
		return string(a.Role)
	}
	return "anonymous"
}
