package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Labels: method, route, status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "report_variables",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "report_variables",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "report_variables",
		Subsystem: "api",
		Name:      "change_feed_clients",
		Help:      "Connected change feed websocket clients",
	})
)

func instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
