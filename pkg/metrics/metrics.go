// Package metrics exposes the bot's operational counters over Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns every metric the bot emits. One instance per process;
// promauto registers on the default registry.
type Recorder struct {
	events         *prometheus.CounterVec
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	notifications  *prometheus.CounterVec
	throttled      prometheus.Counter
}

// NewRecorder registers and returns the bot's metric set.
func NewRecorder() *Recorder {
	return &Recorder{
		events: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_flow_events_total",
			Help: "Conversation events by flow and outcome.",
		}, []string{"flow", "outcome"}),
		backendCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_backend_calls_total",
			Help: "Backend API calls by operation and result.",
		}, []string{"op", "status"}),
		backendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bot_backend_call_seconds",
			Help:    "Backend API call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		notifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_notifications_total",
			Help: "Inbound backend notifications by result.",
		}, []string{"result"}),
		throttled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bot_throttled_events_total",
			Help: "Inbound events rejected by the rate limiter.",
		}),
	}
}

// FlowEvent records one conversation event outcome.
func (r *Recorder) FlowEvent(flow, outcome string) {
	r.events.WithLabelValues(flow, outcome).Inc()
}

// BackendCall records one backend API call.
func (r *Recorder) BackendCall(op, status string, d time.Duration) {
	r.backendCalls.WithLabelValues(op, status).Inc()
	r.backendLatency.WithLabelValues(op).Observe(d.Seconds())
}

// Notification records one webhook handling result.
func (r *Recorder) Notification(result string) {
	r.notifications.WithLabelValues(result).Inc()
}

// Throttled records one rate-limited event.
func (r *Recorder) Throttled() {
	r.throttled.Inc()
}
