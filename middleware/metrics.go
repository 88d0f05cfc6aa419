package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	WebhookOutcomeApplied   = "applied"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeRejected  = "rejected"
	WebhookOutcomeFailed    = "failed"

	PromotionOriginalKey = "original_key"
	PromotionFreshKey    = "fresh_key"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Gateway events handled, by outcome",
		},
		[]string{"outcome"},
	)

	statusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_transitions_total",
			Help: "Committed payment status changes, by new status",
		},
		[]string{"status"},
	)

	submissionPromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submission_promotions_total",
			Help: "Pending submissions promoted, by which key was used",
		},
		[]string{"result"},
	)

	dispatchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_dispatch_failures_total",
			Help: "Post-commit side effects that failed, by step",
		},
		[]string{"step"},
	)

	gatewayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_messages_consumed_total",
			Help: "Relayed gateway events consumed from Kafka, by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(webhookEventsTotal)
	prometheus.MustRegister(statusTransitionsTotal)
	prometheus.MustRegister(submissionPromotionsTotal)
	prometheus.MustRegister(dispatchFailuresTotal)
	prometheus.MustRegister(gatewayMessagesTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordWebhookEvent(outcome string) {
	webhookEventsTotal.WithLabelValues(outcome).Inc()
}

func RecordStatusTransition(status string) {
	statusTransitionsTotal.WithLabelValues(status).Inc()
}

func RecordSubmissionPromotion(result string) {
	submissionPromotionsTotal.WithLabelValues(result).Inc()
}

func RecordDispatchFailure(step string) {
	dispatchFailuresTotal.WithLabelValues(step).Inc()
}

func RecordGatewayMessage(result string) {
	gatewayMessagesTotal.WithLabelValues(result).Inc()
}
