// Package metrics exposes the Prometheus counters and histograms the
// dispatch pipeline records.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyd_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_notifications_submitted_total",
			Help: "Total notifications accepted at ingress by channel",
		},
		[]string{"channel"},
	)

	notificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_notifications_processed_total",
			Help: "Total delivery attempts by terminal or transient outcome",
		},
		[]string{"status", "channel"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyd_delivery_duration_seconds",
			Help:    "Time spent in a single delivery attempt",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"channel"},
	)

	workerPoolInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifyd_worker_pool_inflight",
			Help: "Delivery tasks currently held by the worker pool",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyd_idempotency_hits_total",
			Help: "Submit requests resolved by returning an existing notification",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"client_id"},
	)

	webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_webhook_deliveries_total",
			Help: "Webhook POST outcomes",
		},
		[]string{"outcome"},
	)

	channelHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notifyd_channel_health",
			Help: "Last observed channel health, 1=healthy 0=unhealthy",
		},
		[]string{"channel"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifyd_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSubmitted records a notification accepted at ingress.
func RecordSubmitted(channel string) {
	notificationsSubmitted.WithLabelValues(channel).Inc()
}

// RecordProcessed records a delivery attempt's outcome.
func RecordProcessed(status, channel string) {
	notificationsProcessed.WithLabelValues(status, channel).Inc()
}

// RecordDeliveryDuration records the wall time of one delivery attempt.
func RecordDeliveryDuration(channel string, d time.Duration) {
	deliveryDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// SetWorkerPoolInflight reports the current worker pool queue depth.
func SetWorkerPoolInflight(n int) {
	workerPoolInflight.Set(float64(n))
}

// RecordIdempotencyHit records a request served by idempotency replay.
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rejected request for a client.
func RecordRateLimitRejection(clientID string) {
	rateLimitRejections.WithLabelValues(clientID).Inc()
}

// RecordWebhookDelivery records a webhook POST outcome ("success" or "failure").
func RecordWebhookDelivery(outcome string) {
	webhookDeliveries.WithLabelValues(outcome).Inc()
}

// SetChannelHealth reports the last observed health of a channel.
func SetChannelHealth(channel string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	channelHealth.WithLabelValues(channel).Set(v)
}

// SetDBConnections reports the active database connection count.
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
