package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the outreach engine collectors. A nil *Metrics is a no-op.
type Metrics struct {
	EmailsSentTotal      prometheus.Counter
	EmailsFailedTotal    prometheus.Counter
	BatchesTotal         *prometheus.CounterVec
	BatchDurationSeconds prometheus.Histogram
	WebhookEventsTotal   *prometheus.CounterVec
	CampaignTransitions  *prometheus.CounterVec
	ClaimsExpiredTotal   prometheus.Counter
	EnqueueFailedChunks  prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_emails_sent_total",
			Help: "Emails accepted by the transport",
		}),
		EmailsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_emails_failed_total",
			Help: "Emails whose transport call failed",
		}),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_batches_total",
			Help: "Batch processor invocations by outcome",
		}, []string{"outcome"}),
		BatchDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_batch_duration_seconds",
			Help:    "Wall time of one batch processor invocation",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 60, 120, 300},
		}),
		WebhookEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_webhook_events_total",
			Help: "Webhook events by type and outcome",
		}, []string{"type", "outcome"}),
		CampaignTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_campaign_transitions_total",
			Help: "Campaign status transitions by target status",
		}, []string{"to"}),
		ClaimsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_claims_expired_total",
			Help: "Claimed rows failed after their lease elapsed",
		}),
		EnqueueFailedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_enqueue_failed_chunks_total",
			Help: "Recipient insert chunks skipped after a storage error",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.EmailsSentTotal,
		m.EmailsFailedTotal,
		m.BatchesTotal,
		m.BatchDurationSeconds,
		m.WebhookEventsTotal,
		m.CampaignTransitions,
		m.ClaimsExpiredTotal,
		m.EnqueueFailedChunks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EmailSent() {
	if m != nil {
		m.EmailsSentTotal.Inc()
	}
}

func (m *Metrics) EmailFailed() {
	if m != nil {
		m.EmailsFailedTotal.Inc()
	}
}

// ObserveBatch records one processor call. outcome is "ok", "noop", "completed" or "error".
func (m *Metrics) ObserveBatch(outcome string, d time.Duration) {
	if m != nil {
		m.BatchesTotal.WithLabelValues(outcome).Inc()
		m.BatchDurationSeconds.Observe(d.Seconds())
	}
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m != nil {
		m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	}
}

func (m *Metrics) Transition(to string) {
	if m != nil {
		m.CampaignTransitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) ClaimsExpired(n int64) {
	if m != nil && n > 0 {
		m.ClaimsExpiredTotal.Add(float64(n))
	}
}

func (m *Metrics) EnqueueChunksFailed(n int) {
	if m != nil && n > 0 {
		m.EnqueueFailedChunks.Add(float64(n))
	}
}
