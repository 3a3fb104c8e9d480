package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the relay. A nil *Metrics is a no-op.
type Metrics struct {
	Published       prometheus.Counter
	Failures        prometheus.Counter
	PublishDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "curation_outbox_published_total",
			Help: "Outbox messages published to Kafka",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "curation_outbox_publish_failures_total",
			Help: "Outbox batches that failed to publish",
		}),
		PublishDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "curation_outbox_publish_duration_seconds",
			Help:    "Time to produce one outbox batch",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) AddPublished(n int) {
	if m == nil {
		return
	}
	m.Published.Add(float64(n))
}

func (m *Metrics) IncrementFailures() {
	if m == nil {
		return
	}
	m.Failures.Inc()
}

func (m *Metrics) ObservePublishDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.PublishDuration.Observe(d.Seconds())
}
