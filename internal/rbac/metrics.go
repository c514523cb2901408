package rbac

import "github.com/prometheus/client_golang/prometheus"

// Resolution outcomes recorded by Metrics.
const (
	OutcomeResolved = "resolved"
	OutcomeDegraded = "degraded"
	OutcomeInactive = "inactive"
)

// Metrics holds Prometheus collectors for permission resolution and propagation.
type Metrics struct {
	resolutions *prometheus.CounterVec
	broadcasts  *prometheus.CounterVec
	stale       prometheus.Counter
}

// NewMetrics registers the RBAC collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqtrack_rbac_resolutions_total",
			Help: "Permission resolutions by outcome.",
		}, []string{"outcome"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqtrack_rbac_broadcasts_total",
			Help: "Permissions-changed events published by kind.",
		}, []string{"kind"}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reqtrack_rbac_stale_results_total",
			Help: "Resolutions discarded because a newer refresh superseded them.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.resolutions, m.broadcasts, m.stale)
	}
	return m
}

func (m *Metrics) observeResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeBroadcast(kind string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeStale() {
	if m == nil {
		return
	}
	m.stale.Inc()
}
