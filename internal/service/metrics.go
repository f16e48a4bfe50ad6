package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ingest pipeline collectors.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	ingestTotal   *prometheus.CounterVec
	failures      *prometheus.CounterVec
}

// NewMetrics creates the ingest collectors and registers them on reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "holodoc_ingest_stage_duration_seconds",
				Help:    "Time spent in each capture pipeline stage.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"stage"},
		),
		ingestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "holodoc_ingest_total",
				Help: "Captures processed, by outcome.",
			},
			[]string{"outcome"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "holodoc_ingest_failures_total",
				Help: "Failed captures, by the stage that failed.",
			},
			[]string{"stage"},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.stageDuration, m.ingestTotal, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
