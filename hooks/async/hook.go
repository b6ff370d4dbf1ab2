// Package asynchook moves hook delivery off the request path. Events that do
// not fit the queue are dropped.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := tagcache.New[[]contentful.Article](tagcache.Options[[]contentful.Article]{
//	    Namespace: "articles",
//	    Provider:  provider,
//	    Codec:     codec.JSON[[]contentful.Article]{},
//	    Hooks:     hooks,
//	})
package asynchook

import (
	"sync/atomic"

	"github.com/unkn0wn-root/tagcache"
	"github.com/unkn0wn-root/tagcache/internal/pool"
)

type Hooks struct {
	inner   tagcache.Hooks
	p       *pool.Pool
	dropped atomic.Uint64
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(inner tagcache.Hooks, workers, qlen int) *Hooks {
	return &Hooks{inner: inner, p: pool.New(workers, qlen, nil)}
}

// Close delivers queued events and stops the workers.
func (h *Hooks) Close() { h.p.Close() }

// Dropped reports how many events did not fit the queue.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if !h.p.TrySubmit(f) {
		h.dropped.Add(1)
	}
}

func (h *Hooks) Lookup(s tagcache.State, exp bool) { h.try(func() { h.inner.Lookup(s, exp) }) }
func (h *Hooks) SelfHeal(k, r string)              { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) RefreshFailed(k string, err error) { h.try(func() { h.inner.RefreshFailed(k, err) }) }
func (h *Hooks) RefreshDropped(k string)           { h.try(func() { h.inner.RefreshDropped(k) }) }
func (h *Hooks) ProviderSetRejected(k string)      { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) GenBumpError(n int, err error)     { h.try(func() { h.inner.GenBumpError(n, err) }) }
func (h *Hooks) IndexError(op string, err error)   { h.try(func() { h.inner.IndexError(op, err) }) }
func (h *Hooks) GenSnapshotError(k string, err error) {
	h.try(func() { h.inner.GenSnapshotError(k, err) })
}
func (h *Hooks) TagInvalidated(tag, profile string, keys int) {
	h.try(func() { h.inner.TagInvalidated(tag, profile, keys) })
}
