// Package metrics exposes prometheus instruments for the sync layer.
// All methods are nil-receiver safe; components constructed without metrics
// simply record nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/studylab/studysync/pkg/models"
)

// Metrics holds the sync layer's instruments.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	pollTicksTotal    *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	pollLoopsActive   prometheus.Gauge
}

// New creates and registers the instruments. A nil registerer returns nil,
// which disables all recording.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studysync",
			Name:      "requests_total",
			Help:      "Remote API requests by kind, operation and outcome.",
		}, []string{"kind", "operation", "outcome"}),
		pollTicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studysync",
			Name:      "poll_ticks_total",
			Help:      "Poll fetches by kind and outcome.",
		}, []string{"kind", "outcome"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studysync",
			Name:      "status_transitions_total",
			Help:      "Observed job status transitions by kind and new status.",
		}, []string{"kind", "status"}),
		pollLoopsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "studysync",
			Name:      "poll_loops_active",
			Help:      "Number of currently running poll loops.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.pollTicksTotal, m.statusTransitions, m.pollLoopsActive)
	return m
}

// RequestFinished records one completed request.
func (m *Metrics) RequestFinished(kind models.Kind, operation string, ok bool) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(string(kind), operation, outcome(ok)).Inc()
}

// PollTick records one poll fetch.
func (m *Metrics) PollTick(kind models.Kind, ok bool) {
	if m == nil {
		return
	}
	m.pollTicksTotal.WithLabelValues(string(kind), outcome(ok)).Inc()
}

// StatusTransition records a job status change observed by a poll loop.
func (m *Metrics) StatusTransition(kind models.Kind, status models.ProcessStatus) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(string(kind), string(status)).Inc()
}

// PollLoopStarted / PollLoopStopped track the active loop gauge.
func (m *Metrics) PollLoopStarted() {
	if m == nil {
		return
	}
	m.pollLoopsActive.Inc()
}

func (m *Metrics) PollLoopStopped() {
	if m == nil {
		return
	}
	m.pollLoopsActive.Dec()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
