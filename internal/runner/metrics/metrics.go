package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for audit runs.
type Metrics struct {
	// Subjects processed by outcome: "clean", "finding", "failed"
	SubjectsAudited *prometheus.CounterVec

	// Findings recorded by "{number}. {name}" label
	FindingsRecorded *prometheus.CounterVec

	ProcedureFailures prometheus.Counter

	SubjectLatency prometheus.Histogram
	RunLatency     prometheus.Histogram

	// Runs in flight
	ActiveRuns prometheus.Gauge
}

// New registers the runner metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the runner metrics on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SubjectsAudited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audita_subjects_audited_total",
			Help: "Total audited subjects by outcome",
		}, []string{"outcome"}),

		FindingsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audita_findings_recorded_total",
			Help: "Total findings recorded by finding label",
		}, []string{"finding"}),

		ProcedureFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "audita_procedure_failures_total",
			Help: "Procedure executions whose finding determination was aborted",
		}),

		SubjectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audita_subject_duration_seconds",
			Help:    "Duration of applying all procedures to one subject",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		RunLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audita_run_duration_seconds",
			Help:    "Duration of a full audit run including persistence",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "audita_active_runs",
			Help: "Audit runs currently in progress",
		}),
	}
}

// IncrementSubject records a subject outcome.
func (m *Metrics) IncrementSubject(outcome string) {
	if m != nil {
		m.SubjectsAudited.WithLabelValues(outcome).Inc()
	}
}

// IncrementFinding records a finding.
func (m *Metrics) IncrementFinding(label string) {
	if m != nil {
		m.FindingsRecorded.WithLabelValues(label).Inc()
	}
}

// AddProcedureFailures records aborted procedure executions.
func (m *Metrics) AddProcedureFailures(n int) {
	if m != nil && n > 0 {
		m.ProcedureFailures.Add(float64(n))
	}
}

// ObserveSubjectLatency records the time spent on one subject.
func (m *Metrics) ObserveSubjectLatency(d time.Duration) {
	if m != nil {
		m.SubjectLatency.Observe(d.Seconds())
	}
}

// ObserveRunLatency records the time spent on a run.
func (m *Metrics) ObserveRunLatency(d time.Duration) {
	if m != nil {
		m.RunLatency.Observe(d.Seconds())
	}
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m != nil {
		m.ActiveRuns.Inc()
	}
}

// RunFinished decrements the active run gauge.
func (m *Metrics) RunFinished() {
	if m != nil {
		m.ActiveRuns.Dec()
	}
}
