// Package metrics holds the prometheus collectors of the route resolution core.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "routemesh"

// Resolution outcomes
const (
	OutcomeResolved = "resolved"
	OutcomeRemoved  = "removed"
	OutcomeDeleted  = "deleted"
	OutcomeFailed   = "failed"
)

// Reaper task and lock results
const (
	ResultWithdrawn = "withdrawn"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
	ResultAcquired  = "acquired"
	ResultLost      = "lost"
)

// Metrics groups every collector
type Metrics struct {
	resolutions        *prometheus.CounterVec
	storeEvents        *prometheus.CounterVec
	storePrefixes      *prometheus.GaugeVec
	listenerQueueDepth *prometheus.GaugeVec
	listenerFailures   *prometheus.CounterVec
	reaperTasks        *prometheus.CounterVec
	reaperLockAttempts *prometheus.CounterVec
	reaperWithdrawn    prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "resolutions_total",
				Help:      "Route set resolutions by outcome.",
			},
			[]string{"outcome"},
		),
		storeEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "events_total",
				Help:      "Route events emitted by the resolved route store.",
			},
			[]string{"type"},
		),
		storePrefixes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "prefixes",
				Help:      "Prefixes with a resolved best route.",
			},
			[]string{"table"},
		),
		listenerQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "listener",
				Name:      "queue_depth",
				Help:      "Undelivered events per listener.",
			},
			[]string{"listener"},
		),
		listenerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "listener",
				Name:      "failures_total",
				Help:      "Listener callbacks that panicked.",
			},
			[]string{"listener"},
		),
		reaperTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "tasks_total",
				Help:      "Reaper work items processed by result.",
			},
			[]string{"result"},
		),
		reaperLockAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "lock_attempts_total",
				Help:      "Reaper lock acquisition attempts by result.",
			},
			[]string{"result"},
		),
		reaperWithdrawn: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "withdrawn_routes_total",
				Help:      "Routes withdrawn on behalf of departed nodes.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.resolutions,
			m.storeEvents,
			m.storePrefixes,
			m.listenerQueueDepth,
			m.listenerFailures,
			m.reaperTasks,
			m.reaperLockAttempts,
			m.reaperWithdrawn,
		)
	}
	return m
}

func (m *Metrics) Resolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StoreEvent(eventType string) {
	if m == nil {
		return
	}
	m.storeEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) StorePrefixes(table string, n int) {
	if m == nil {
		return
	}
	m.storePrefixes.WithLabelValues(table).Set(float64(n))
}

func (m *Metrics) ListenerQueueDepth(listener string, n int) {
	if m == nil {
		return
	}
	m.listenerQueueDepth.WithLabelValues(listener).Set(float64(n))
}

// ListenerRemoved drops the per-listener series.
func (m *Metrics) ListenerRemoved(listener string) {
	if m == nil {
		return
	}
	m.listenerQueueDepth.DeleteLabelValues(listener)
	m.listenerFailures.DeleteLabelValues(listener)
}

func (m *Metrics) ListenerFailure(listener string) {
	if m == nil {
		return
	}
	m.listenerFailures.WithLabelValues(listener).Inc()
}

func (m *Metrics) ReaperTask(result string) {
	if m == nil {
		return
	}
	m.reaperTasks.WithLabelValues(result).Inc()
}

func (m *Metrics) ReaperLockAttempt(result string) {
	if m == nil {
		return
	}
	m.reaperLockAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ReaperWithdrawn(n int) {
	if m == nil {
		return
	}
	m.reaperWithdrawn.Add(float64(n))
}
