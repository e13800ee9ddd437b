// Package metrics exposes Prometheus instruments for the detection engine.
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "anomaly"

type Metrics struct {
	ticks           prometheus.Counter
	tickDuration    prometheus.Histogram
	evaluations     prometheus.Counter
	skips           *prometheus.CounterVec
	candidates      prometheus.Counter
	suppressed      prometheus.Counter
	alertsCreated   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	dispatchDropped prometheus.Counter
	leader          prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "ticks_total",
			Help: "Detection ticks run by this replica.",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "tick_duration_seconds",
			Help:    "Wall time of one detection tick.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		evaluations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "evaluations_total",
			Help: "Metrics run through the ensemble.",
		}),
		// reason: no_data | insufficient_data | store_unavailable | error
		skips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "skips_total",
			Help: "Metrics skipped within a tick by reason.",
		}, []string{"reason"}),
		candidates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "candidates_total",
			Help: "Candidate anomalies produced by the ensemble.",
		}),
		suppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "suppressed_total",
			Help: "Candidates discarded by the cooldown gate.",
		}),
		alertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts", Name: "created_total",
			Help: "Alerts created by severity.",
		}, []string{"severity"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts", Name: "transitions_total",
			Help: "Alert status transitions by target status.",
		}, []string{"status"}),
		// outcome: success | failed
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "deliveries_total",
			Help: "Channel delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		dispatchDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "dropped_total",
			Help: "Dispatch jobs dropped because the queue was full.",
		}),
		leader: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "leader",
			Help: "1 while this replica holds the scheduler lease.",
		}),
	}
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) Evaluated() {
	if m == nil {
		return
	}
	m.evaluations.Inc()
}

func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(reason).Inc()
}

func (m *Metrics) Candidate() {
	if m == nil {
		return
	}
	m.candidates.Inc()
}

func (m *Metrics) Suppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}

func (m *Metrics) AlertCreated(severity string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(severity).Inc()
}

func (m *Metrics) Transitioned(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Delivered(channel string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failed"
	}
	m.deliveries.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dispatchDropped.Inc()
}

func (m *Metrics) SetLeader(leader bool) {
	if m == nil {
		return
	}
	if leader {
		m.leader.Set(1)
		return
	}
	m.leader.Set(0)
}
