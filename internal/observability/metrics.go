package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_messages_total",
			Help: "Total number of message ledger operations.",
		},
		[]string{"operation", "message_type"},
	)
	conversationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_conversations_total",
			Help: "Total number of conversation directory operations.",
		},
		[]string{"operation", "kind"},
	)
	unreadQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_unread_queries_total",
			Help: "Total number of unread-count projections computed.",
		},
	)
	attachmentBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_attachment_bytes_total",
			Help: "Total attachment bytes accepted by the store.",
		},
	)
	attachmentCleanupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_attachment_cleanup_failures_total",
			Help: "Total number of best-effort attachment removals that failed.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		messagesTotal,
		conversationsTotal,
		unreadQueriesTotal,
		attachmentBytesTotal,
		attachmentCleanupFailures,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncMessageOp(operation, messageType string) {
	messagesTotal.WithLabelValues(operation, messageType).Inc()
}

func IncConversationOp(operation, kind string) {
	conversationsTotal.WithLabelValues(operation, kind).Inc()
}

func IncUnreadQuery() {
	unreadQueriesTotal.Inc()
}

func AddAttachmentBytes(n int64) {
	attachmentBytesTotal.Add(float64(n))
}

func IncAttachmentCleanupFailure() {
	attachmentCleanupFailures.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
