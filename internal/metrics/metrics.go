package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Inbound
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_requests_total", Help: "Inbound webhook outcomes."},
		[]string{"source", "result"}, // ok | duplicate | invalid_signature | validation_error | not_found | error
	)

	// Outbound dispatch
	DispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_attempts_total", Help: "Outbound delivery attempt outcomes."},
		[]string{"outcome"}, // sent | temp_fail | exhausted
	)
	DispatchInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_inflight", Help: "In-flight outbound deliveries in this process."},
	)
	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_seconds",
			Help:    "Provider delivery call latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
	ReplyEnqueue = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reply_enqueue_total", Help: "Reply enqueue results."},
		[]string{"result"}, // ok | queue_full
	)
)

// MustRegister registers default and application collectors.
func MustRegister() {
	prometheus.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		WebhookRequests, DispatchAttempts, DispatchInFlight,
		DeliveryDuration, ReplyEnqueue,
	)
}
