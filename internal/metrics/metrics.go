package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatterlite_ws_connections",
		Help: "Current number of active realtime sessions",
	})
	MessagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterlite_messages_sent_total",
		Help: "Total number of messages stored, by kind",
	}, []string{"kind"})
	ReactionsToggledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterlite_reactions_toggled_total",
		Help: "Total number of reaction toggles, by result",
	}, []string{"result"})
	FriendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterlite_friend_requests_total",
		Help: "Friend request state changes, by resulting status",
	}, []string{"status"})
	ChatRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterlite_view_refreshes_total",
		Help: "Full refetches triggered by change notifications, by view and outcome",
	}, []string{"view", "outcome"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		MessagesSentTotal,
		ReactionsToggledTotal,
		FriendRequestsTotal,
		ChatRefreshesTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
