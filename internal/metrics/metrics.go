// ABOUTME: Prometheus metrics for turns, sessions and broadcasts
// ABOUTME: Observes turns through conversation.TurnObserver and serves a scrape handler

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/parley/internal/conversation"
)

const namespace = "parley"

// Metrics owns its collectors and a private registry.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal     *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	turnFragments  *prometheus.HistogramVec
	turnsInFlight  prometheus.Gauge
	sessionsActive prometheus.Gauge
	broadcastTotal *prometheus.CounterVec
}

// New creates and registers all collectors. withRuntime adds the Go and
// process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of finished turns",
			},
			[]string{"model", "outcome"}, // outcome: completed, failed, cancelled
		),

		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Duration from send to terminal event in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),

		turnFragments: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_fragments",
				Help:      "Non-empty fragments received per turn",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"model"},
		),

		turnsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "turns_in_flight",
				Help:      "Number of turns awaiting or streaming",
			},
		),

		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of live sessions",
			},
		),

		broadcastTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcast_targets_total",
				Help:      "Sessions targeted by sync broadcasts",
			},
			[]string{"result"}, // result: sent, skipped
		),
	}

	m.registry.MustRegister(
		m.turnsTotal,
		m.turnDuration,
		m.turnFragments,
		m.turnsInFlight,
		m.sessionsActive,
		m.broadcastTotal,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) TurnStarted(sessionID, model string) {
	m.turnsInFlight.Inc()
}

func (m *Metrics) TurnFinished(rec conversation.TurnRecord) {
	m.turnsInFlight.Dec()
	m.turnsTotal.WithLabelValues(rec.Model, string(rec.Outcome)).Inc()
	m.turnDuration.WithLabelValues(rec.Model).Observe(rec.Duration().Seconds())
	if rec.Outcome == conversation.OutcomeCompleted {
		m.turnFragments.WithLabelValues(rec.Model).Observe(float64(rec.Fragments))
	}
}

// SessionsActive sets the live session gauge.
func (m *Metrics) SessionsActive(n int) {
	m.sessionsActive.Set(float64(n))
}

// BroadcastResult counts one broadcast's targets.
func (m *Metrics) BroadcastResult(sent, skipped int) {
	m.broadcastTotal.WithLabelValues("sent").Add(float64(sent))
	m.broadcastTotal.WithLabelValues("skipped").Add(float64(skipped))
}

var _ conversation.TurnObserver = (*Metrics)(nil)
