package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all link platform metrics.
type Registry struct {
	// Operations
	Operations    *prometheus.CounterVec
	OperationWait *prometheus.HistogramVec

	// Cache and notifier
	Events        *prometheus.CounterVec
	CacheLinks    prometheus.Gauge
	Notifications prometheus.Counter
	Resyncs       prometheus.Counter
	ImplicitLinks *prometheus.CounterVec

	// Per-link state, refreshed by the Collector
	LinkUp        *prometheus.GaugeVec
	LinkConnected *prometheus.GaugeVec
	LinkSlaves    *prometheus.GaugeVec
}

// New creates a Registry whose collectors are registered with reg. A nil
// reg leaves the collectors unregistered, which is what most tests want.
func New(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	r := &Registry{}

	r.Operations = f.NewCounterVec(prometheus.CounterOpts{
		Name: "linkd_operations_total",
		Help: "Link operations by name and result kind",
	}, []string{"op", "result"})

	r.OperationWait = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linkd_operation_wait_seconds",
		Help:    "Time spent waiting for kernel confirmation of a mutation",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"op"})

	r.Events = f.NewCounterVec(prometheus.CounterOpts{
		Name: "linkd_events_total",
		Help: "Link change events published, by kind",
	}, []string{"kind"})

	r.CacheLinks = f.NewGauge(prometheus.GaugeOpts{
		Name: "linkd_cache_links",
		Help: "Number of links in the cache",
	})

	r.Notifications = f.NewCounter(prometheus.CounterOpts{
		Name: "linkd_notifications_total",
		Help: "Raw kernel notifications applied to the cache",
	})

	r.Resyncs = f.NewCounter(prometheus.CounterOpts{
		Name: "linkd_resyncs_total",
		Help: "Full link dumps performed after notification overflow",
	})

	r.ImplicitLinks = f.NewCounterVec(prometheus.CounterOpts{
		Name: "linkd_implicit_links_total",
		Help: "Links created as a kernel side effect of another operation",
	}, []string{"name", "action"})

	r.LinkUp = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linkd_link_up",
		Help: "Administrative state of each link (1 = up)",
	}, []string{"link", "type"})

	r.LinkConnected = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linkd_link_connected",
		Help: "Derived connectivity of each link (1 = connected)",
	}, []string{"link", "type"})

	r.LinkSlaves = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linkd_link_slaves",
		Help: "Number of slaves attached to each master",
	}, []string{"link", "type"})

	return r
}

// RecordOperation counts an operation and observes its wait time.
func (r *Registry) RecordOperation(op, result string, wait time.Duration) {
	if r == nil {
		return
	}
	r.Operations.WithLabelValues(op, result).Inc()
	if wait > 0 {
		r.OperationWait.WithLabelValues(op).Observe(wait.Seconds())
	}
}

// RecordEvent counts a published change event.
func (r *Registry) RecordEvent(kind string) {
	if r == nil {
		return
	}
	r.Events.WithLabelValues(kind).Inc()
}

// RecordNotifications counts raw notifications applied to the cache.
func (r *Registry) RecordNotifications(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.Notifications.Add(float64(n))
}

// RecordResync counts a full resynchronization.
func (r *Registry) RecordResync() {
	if r == nil {
		return
	}
	r.Resyncs.Inc()
}

// RecordImplicitLink counts a side-effect link and what was done about it.
func (r *Registry) RecordImplicitLink(name, action string) {
	if r == nil {
		return
	}
	r.ImplicitLinks.WithLabelValues(name, action).Inc()
}

// SetCacheSize updates the cache size gauge.
func (r *Registry) SetCacheSize(n int) {
	if r == nil {
		return
	}
	r.CacheLinks.Set(float64(n))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
