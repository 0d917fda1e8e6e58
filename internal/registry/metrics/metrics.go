// Package metrics exposes Prometheus counters for the review pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	PreviewsTotal         prometheus.Counter
	AppliesTotal          *prometheus.CounterVec
	ConflictWarningsTotal prometheus.Counter
}

// New registers the pipeline counters on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PreviewsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regsync_previews_total",
			Help: "Number of extraction previews computed.",
		}),
		AppliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_applies_total",
			Help: "Number of apply attempts by result.",
		}, []string{"result"}),
		ConflictWarningsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regsync_conflict_warnings_total",
			Help: "Number of applies that detected a concurrent modification.",
		}),
	}
	reg.MustRegister(m.PreviewsTotal, m.AppliesTotal, m.ConflictWarningsTotal)
	return m
}
