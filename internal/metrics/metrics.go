// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medride_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medride_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Marketplace metrics
	BidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medride_bids_total",
			Help: "Bid ledger operations by outcome",
		},
		[]string{"operation", "result"},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medride_payments_total",
			Help: "Payment attempts by resulting status",
		},
		[]string{"status"},
	)

	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medride_payouts_total",
			Help: "Driver payouts by resulting status",
		},
		[]string{"status"},
	)

	RidesExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medride_rides_expired_total",
			Help: "Rides cancelled by the expiry sweep",
		},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medride_webhook_events_total",
			Help: "Gateway webhook events by type and result",
		},
		[]string{"type", "result"},
	)
)

// RecordHTTP records HTTP request metrics.
func RecordHTTP(method, path string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBid records a bid ledger operation.
func RecordBid(operation string, err error) {
	BidsTotal.WithLabelValues(operation, result(err)).Inc()
}

// RecordWebhook records a processed webhook event.
func RecordWebhook(eventType string, err error) {
	WebhookEventsTotal.WithLabelValues(eventType, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
