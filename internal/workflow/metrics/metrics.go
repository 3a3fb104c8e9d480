package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transition outcomes used as the "outcome" label.
const (
	OutcomeSuccess           = "success"
	OutcomeNotFound          = "not_found"
	OutcomeInvalidTransition = "invalid_transition"
	OutcomeUnauthorized      = "unauthorized"
	OutcomeFourEyes          = "four_eyes_violation"
	OutcomeConflict          = "conflict"
	OutcomeSlotConflict      = "slot_conflict"
	OutcomeError             = "error"
)

// Metrics provides observability for the curation workflow.
type Metrics struct {
	// Transition attempts by edge and outcome
	Transitions *prometheus.CounterVec

	// End-to-end transition latency, including storage round-trips
	TransitionLatency *prometheus.HistogramVec

	// Optimistic-lock conflicts surfaced to callers, by operation
	Conflicts *prometheus.CounterVec

	// Active records demoted to superseded
	Supersessions prometheus.Counter

	// Whole-transaction retries caused by slot contention
	SlotRetries prometheus.Counter

	// Records created at the initial stage
	Created prometheus.Counter
}

// New registers the workflow metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "curation_transitions_total",
			Help: "Total curation transition attempts by edge and outcome",
		}, []string{"from", "to", "outcome"}),

		TransitionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "curation_transition_duration_seconds",
			Help:    "Duration of curation transitions by target stage",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"to"}),

		Conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "curation_version_conflicts_total",
			Help: "Total optimistic-lock conflicts returned to callers by operation",
		}, []string{"operation"}), // operation: "transition", "update_evidence"

		Supersessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "curation_supersessions_total",
			Help: "Total active curations demoted by a newer approval",
		}),

		SlotRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "curation_slot_retries_total",
			Help: "Total transaction retries caused by active-slot contention",
		}),

		Created: factory.NewCounter(prometheus.CounterOpts{
			Name: "curation_records_created_total",
			Help: "Total curation records created",
		}),
	}
}

// ObserveTransition records one transition attempt and its latency.
func (m *Metrics) ObserveTransition(from, to, outcome string, d time.Duration) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to, outcome).Inc()
		m.TransitionLatency.WithLabelValues(to).Observe(d.Seconds())
	}
}

// IncrementConflict records a version conflict for operation.
func (m *Metrics) IncrementConflict(operation string) {
	if m != nil {
		m.Conflicts.WithLabelValues(operation).Inc()
	}
}

// IncrementSupersession records a demoted active record.
func (m *Metrics) IncrementSupersession() {
	if m != nil {
		m.Supersessions.Inc()
	}
}

// IncrementSlotRetry records a transaction retried after contention.
func (m *Metrics) IncrementSlotRetry() {
	if m != nil {
		m.SlotRetries.Inc()
	}
}

// IncrementCreated records a newly created record.
func (m *Metrics) IncrementCreated() {
	if m != nil {
		m.Created.Inc()
	}
}
