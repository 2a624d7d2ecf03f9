package diagram

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects diagram render counters. A nil *Metrics records nothing.
type Metrics struct {
	renders    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	superseded *prometheus.CounterVec
}

// NewMetrics registers diagram collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogmd_diagram_renders_total",
				Help: "Diagram render attempts by engine and outcome.",
			},
			[]string{"engine", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blogmd_diagram_render_seconds",
				Help:    "Time spent inside the diagram engine.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"engine"},
		),
		superseded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogmd_diagram_superseded_total",
				Help: "Render completions discarded because a newer request was issued.",
			},
			[]string{"engine"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.renders, m.duration, m.superseded)
	}
	return m
}

func (m *Metrics) observe(engine string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	case err != nil:
		outcome = "error"
	}
	m.renders.WithLabelValues(engine, outcome).Inc()
	m.duration.WithLabelValues(engine).Observe(elapsed.Seconds())
}

func (m *Metrics) discard(engine string) {
	if m == nil {
		return
	}
	m.superseded.WithLabelValues(engine).Inc()
}
