// Package metrics exposes invocation outcomes and engine state in the
// Prometheus text format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cronfunc/internal/eventbus"
	"cronfunc/internal/task/engine"
)

const namespace = "cronfunc"

// EngineStats is the read side of the task engine. *engine.Service implements it.
type EngineStats interface {
	Snapshot() engine.Snapshot
}

// ObservedEvents are the bus event types Metrics counts.
var ObservedEvents = []string{
	eventbus.TaskFinished,
	eventbus.TaskFailed,
	eventbus.TaskSkipped,
	eventbus.TaskDropped,
}

var statusByEvent = map[string]string{
	eventbus.TaskFinished: "finished",
	eventbus.TaskFailed:   "failed",
	eventbus.TaskSkipped:  "skipped",
	eventbus.TaskDropped:  "dropped",
}

// Metrics owns a private registry so tests and multiple hosts never collide
// on the global one.
type Metrics struct {
	reg *prometheus.Registry

	invocations *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	queueDelay  *prometheus.HistogramVec
}

// New registers the invocation collectors plus gauges read from eng and bus.
// Either may be nil.
func New(eng EngineStats, bus eventbus.Bus) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Timer function invocations by outcome.",
		}, []string{"function", "status"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Run attempts including retries.",
		}, []string{"function"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall time of completed invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function"}),
		queueDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_delay_seconds",
			Help:      "Time between trigger and start.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"function"}),
	}
	m.reg.MustRegister(
		m.invocations,
		m.attempts,
		m.duration,
		m.queueDelay,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if eng != nil {
		gauge := func(name, help string, f func(engine.Snapshot) float64) prometheus.Collector {
			return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      name,
				Help:      help,
			}, func() float64 { return f(eng.Snapshot()) })
		}
		m.reg.MustRegister(
			gauge("workers", "Configured worker goroutines.", func(s engine.Snapshot) float64 { return float64(s.Workers) }),
			gauge("queue_length", "Invocations waiting for a worker.", func(s engine.Snapshot) float64 { return float64(s.QueueLen) }),
			gauge("queue_capacity", "Queue size.", func(s engine.Snapshot) float64 { return float64(s.QueueCap) }),
			gauge("in_flight", "Invocations currently running.", func(s engine.Snapshot) float64 { return float64(s.InFlight) }),
		)
	}
	if bus != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events not delivered to a slow subscriber.",
		}, func() float64 { return float64(bus.Dropped()) }))
	}
	return m
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Consume observes events from ch until ctx is done or ch is closed.
func (m *Metrics) Consume(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Observe counts one lifecycle event.
func (m *Metrics) Observe(e eventbus.Event) {
	status, ok := statusByEvent[e.Type]
	if !ok {
		return
	}
	ev, ok := e.Data.(engine.TaskEvent)
	if !ok {
		return
	}
	m.invocations.WithLabelValues(ev.Name, status).Inc()
	if ev.Attempts > 0 {
		m.attempts.WithLabelValues(ev.Name).Add(float64(ev.Attempts))
	}
	if !ev.Started.IsZero() {
		m.queueDelay.WithLabelValues(ev.Name).Observe(ev.QueueDelay.Seconds())
		m.duration.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
	}
}
