package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aguaca_realtime_events_total",
			Help: "Change-feed events by type and outcome (applied, skipped, malformed).",
		},
		[]string{"type", "outcome"},
	)
	feedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aguaca_feed_reconnects_total",
			Help: "Realtime feed reconnect attempts.",
		},
	)
	seenMarksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aguaca_seen_marks_total",
			Help: "Seen-receipt mutations by outcome (ok, error).",
		},
		[]string{"outcome"},
	)
	seenSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aguaca_seen_sweeps_total",
			Help: "Consistency sweep runs.",
		},
	)
	pageLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aguaca_page_loads_total",
			Help: "History page loads by kind (initial, older).",
		},
		[]string{"kind"},
	)
	sessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aguaca_session_transitions_total",
			Help: "Conversation session state transitions.",
		},
		[]string{"state"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aguaca_http_requests_total",
			Help: "Total number of HTTP requests handled by the debug server.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aguaca_http_request_duration_seconds",
			Help:    "Debug server request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aguaca_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		realtimeEventsTotal,
		feedReconnectsTotal,
		seenMarksTotal,
		seenSweepsTotal,
		pageLoadsTotal,
		sessionTransitionsTotal,
		httpRequestsTotal,
		httpRequestDuration,
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

func IncRealtimeEvent(eventType, outcome string) {
	realtimeEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func IncFeedReconnect() {
	feedReconnectsTotal.Inc()
}

func IncSeenMark(outcome string) {
	seenMarksTotal.WithLabelValues(outcome).Inc()
}

func IncSeenSweep() {
	seenSweepsTotal.Inc()
}

func IncPageLoad(kind string) {
	pageLoadsTotal.WithLabelValues(kind).Inc()
}

func IncSessionTransition(state string) {
	sessionTransitionsTotal.WithLabelValues(state).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
