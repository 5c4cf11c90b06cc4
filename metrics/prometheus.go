package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollectors exports the STM engine's commit behavior as
// Prometheus instruments registered against a private registry: a
// histogram of commit latency, and counters for retries and
// conflicts. It is not wired to any HTTP handler (SPEC_FULL.md §9
// scopes metrics exposure out), so it's a local collection point a
// caller can Gather() directly or wire up later.
//
// Grounded on the teacher's GlobalMetricsRegistry pattern
// (metrics/prometheus.go): a dedicated *prometheus.Registry instead of
// the default global one, so repeated construction in tests never hits
// "duplicate metrics collector registration".
type PrometheusCollectors struct {
	Registry *prometheus.Registry

	CommitLatency prometheus.Histogram
	Retries       prometheus.Counter
	Conflicts     prometheus.Counter
}

// NewPrometheusCollectors builds and registers a fresh set of STM
// collectors against a new, private registry.
func NewPrometheusCollectors() *PrometheusCollectors {
	p := &PrometheusCollectors{
		Registry: prometheus.NewRegistry(),
		CommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ffs",
			Subsystem: "stm",
			Name:      "commit_latency_seconds",
			Help:      "Latency of STM transactions including any retries, successful or not.",
			Buckets:   prometheus.DefBuckets,
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ffs",
			Subsystem: "stm",
			Name:      "retries_total",
			Help:      "Number of STM transaction retries due to conflict.",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ffs",
			Subsystem: "stm",
			Name:      "conflicts_total",
			Help:      "Number of STM commit attempts that lost a version compare.",
		}),
	}
	p.Registry.MustRegister(p.CommitLatency, p.Retries, p.Conflicts)
	return p
}
