package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values for access check and cache metrics.
const (
	ResultGranted = "granted"
	ResultDenied  = "denied"
	ResultHit     = "hit"
	ResultMiss    = "miss"
)

// Metrics holds the Prometheus instruments for the access core.
type Metrics struct {
	AccessChecks  *prometheus.CounterVec
	CacheRequests *prometheus.CounterVec
	GroupLoads    prometheus.Counter
	CheckDuration prometheus.Histogram
}

// New creates and registers the instruments on reg. Pass a fresh registry in
// tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AccessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentguard_access_checks_total",
			Help: "Access decisions by result.",
		}, []string{"result"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentguard_cache_requests_total",
			Help: "Cache lookups by result.",
		}, []string{"result"}),
		GroupLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentguard_group_loads_total",
			Help: "Times the persisted group set was loaded from storage.",
		}),
		CheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contentguard_access_check_duration_seconds",
			Help:    "Latency of access decisions.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.AccessChecks, m.CacheRequests, m.GroupLoads, m.CheckDuration)
	}
	return m
}

// ObserveAccessCheck records one access decision.
func (m *Metrics) ObserveAccessCheck(granted bool, seconds float64) {
	if m == nil {
		return
	}
	result := ResultDenied
	if granted {
		result = ResultGranted
	}
	m.AccessChecks.WithLabelValues(result).Inc()
	m.CheckDuration.Observe(seconds)
}

// ObserveCache records one cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// ObserveGroupLoad records one load of the persisted group set.
func (m *Metrics) ObserveGroupLoad() {
	if m == nil {
		return
	}
	m.GroupLoads.Inc()
}
