package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mcpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canton_mcp_requests_total",
		Help: "HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	mcpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "canton_mcp_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	toolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canton_mcp_tool_executions_total",
		Help: "Tool executions by tool and outcome (success, error, cancelled).",
	}, []string{"tool", "outcome"})

	toolDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "canton_mcp_tool_duration_seconds",
		Help:    "Tool execution duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canton_mcp_settlements_total",
		Help: "Payment settlements by rail and result.",
	}, []string{"rail", "result"})

	paymentRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canton_mcp_payment_rejections_total",
		Help: "Payment pre-flight failures by reason (missing, rejected, malformed).",
	}, []string{"reason"})
)

// prometheusMiddleware records per-request metrics, teacher-style.
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		mcpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		mcpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// metricsHandler serves the Prometheus scrape endpoint.
func metricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
