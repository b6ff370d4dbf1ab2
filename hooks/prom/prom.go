// Package promhooks exports cache events as Prometheus counters.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tagcache"
)

type Hooks struct {
	lookups       *prometheus.CounterVec
	selfHeals     *prometheus.CounterVec
	refreshFailed prometheus.Counter
	refreshDrop   prometheus.Counter
	setRejected   prometheus.Counter
	genErrors     *prometheus.CounterVec
	indexErrors   *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	invalidated   prometheus.Counter
}

var _ tagcache.Hooks = (*Hooks)(nil)

// New registers the collectors on reg under the given namespace
// (e.g. "tagcache").
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	h := &Hooks{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "lookups_total",
			Help: "Fetch lookups by observed state.",
		}, []string{"state"}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "self_heals_total",
			Help: "Unreadable entries dropped on read.",
		}, []string{"reason"}),
		refreshFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_failures_total",
			Help: "Background refreshes that failed while stale content kept serving.",
		}),
		refreshDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_dropped_total",
			Help: "Background refreshes dropped because the queue was full.",
		}),
		setRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_set_rejected_total",
			Help: "Writes the provider refused under pressure.",
		}),
		genErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "genstore_errors_total",
			Help: "Generation store failures.",
		}, []string{"op"}),
		indexErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tagindex_errors_total",
			Help: "Tag index failures.",
		}, []string{"op"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tag_invalidations_total",
			Help: "Tag invalidations by revalidation profile.",
		}, []string{"profile"}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "keys_invalidated_total",
			Help: "Cache keys marked stale by tag invalidations.",
		}),
	}
	for _, c := range []prometheus.Collector{
		h.lookups, h.selfHeals, h.refreshFailed, h.refreshDrop, h.setRejected,
		h.genErrors, h.indexErrors, h.invalidations, h.invalidated,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) Lookup(s tagcache.State, expired bool) {
	label := s.String()
	if expired {
		label = "expired"
	}
	h.lookups.WithLabelValues(label).Inc()
}

func (h *Hooks) SelfHeal(_, reason string)         { h.selfHeals.WithLabelValues(reason).Inc() }
func (h *Hooks) RefreshFailed(string, error)       { h.refreshFailed.Inc() }
func (h *Hooks) RefreshDropped(string)             { h.refreshDrop.Inc() }
func (h *Hooks) ProviderSetRejected(string)        { h.setRejected.Inc() }
func (h *Hooks) GenSnapshotError(string, error)    { h.genErrors.WithLabelValues("snapshot").Inc() }
func (h *Hooks) GenBumpError(int, error)           { h.genErrors.WithLabelValues("bump").Inc() }
func (h *Hooks) IndexError(op string, _ error)     { h.indexErrors.WithLabelValues(op).Inc() }
func (h *Hooks) TagInvalidated(_, profile string, keys int) {
	h.invalidations.WithLabelValues(profile).Inc()
	h.invalidated.Add(float64(keys))
}
