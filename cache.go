package tagcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/genstore"
	"github.com/unkn0wn-root/tagcache/internal/pool"
	"github.com/unkn0wn-root/tagcache/internal/wire"
	"github.com/unkn0wn-root/tagcache/provider"
	"github.com/unkn0wn-root/tagcache/tagindex"
)

const tracerName = "github.com/unkn0wn-root/tagcache"

type cache[V any] struct {
	ns       string
	provider provider.Provider
	codec    codec.Codec[V]
	index    tagindex.Index
	gen      genstore.GenStore
	log      Logger
	hooks    Hooks
	tracer   trace.Tracer
	profiles profiles

	enabled        bool
	freshFor       time.Duration
	retention      time.Duration
	computeTimeout time.Duration

	sf    singleflight.Group
	pool  *pool.Pool
	rmu   sync.Mutex
	inFly map[string]struct{} // keys with a queued or running background refresh

	// tags invalidated recently, consulted by writes whose compute started
	// before the invalidation landed
	recentMu sync.Mutex
	recent   map[string]time.Time

	closeOnce sync.Once
	now       func() time.Time
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("tagcache: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("tagcache: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("tagcache: namespace is required")
	}
	ps, err := newProfiles(opts.Profiles, opts.DefaultProfile)
	if err != nil {
		return nil, err
	}

	c := &cache[V]{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		profiles: ps,
		enabled:  !opts.Disabled,
		inFly:    make(map[string]struct{}),
		recent:   make(map[string]time.Time),
		now:      time.Now,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.freshFor = coalesce(opts.FreshFor, defaultFreshFor)
	c.retention = opts.Retention
	c.computeTimeout = coalesce(opts.ComputeTimeout, defaultComputeTimeout)
	if opts.Tracer != nil {
		c.tracer = opts.Tracer
	} else {
		c.tracer = otel.Tracer(tracerName)
	}

	if opts.Index != nil {
		c.index = opts.Index
	} else {
		c.index = tagindex.NewLocal()
	}
	if opts.GenStore != nil {
		c.gen = opts.GenStore
	} else {
		retention := coalesce(opts.GenRetention, defaultGenRetention)
		// a pruned generation reads as 0 again; it must outlive the
		// freshness window of entries written before its first bump
		if retention < 2*c.freshFor {
			retention = 2 * c.freshFor
		}
		c.gen = genstore.NewLocal(coalesce(opts.CleanupInterval, defaultSweep), retention)
	}

	workers := coalesce(opts.RefreshWorkers, defaultRefreshWorkers)
	qlen := coalesce(opts.RefreshQueue, defaultRefreshQueue)
	c.pool = pool.New(workers, qlen, func(r any) {
		c.log.Error("background refresh panicked", Fields{"err": pool.PanicError(r)})
	})
	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

// Close waits for queued refreshes, then releases the stores.
func (c *cache[V]) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.pool.Close()
		_ = c.gen.Close(ctx)
		_ = c.index.Close(ctx)
		err = c.provider.Close(ctx)
	})
	return err
}

func (c *cache[V]) Get(ctx context.Context, key string) (Result[V], error) {
	var res Result[V]
	if !c.enabled {
		return res, nil
	}
	sk := c.storageKey(key)
	raw, ok, err := c.provider.Get(ctx, sk)
	if err != nil {
		return res, err
	}
	if !ok {
		// evicted or expired by the provider; drop leftover associations
		c.dropIndex(ctx, key)
		return res, nil
	}
	e, err := wire.DecodeEntry(raw)
	if err != nil {
		c.selfHeal(ctx, key, sk, "corrupt")
		return res, nil
	}
	v, err := c.codec.Decode(e.Payload)
	if err != nil {
		c.selfHeal(ctx, key, sk, "value_decode")
		return res, nil
	}

	res.Value = v
	res.Tags = e.Tags
	res.CreatedAt = e.CreatedAt
	res.FreshUntil = e.FreshUntil
	res.State = Fresh

	now := c.now()
	g, err := c.gen.Snapshot(ctx, sk)
	switch {
	case err != nil:
		// can't tell whether the entry was invalidated; serve it and refresh
		c.log.Warn("gen snapshot error", Fields{"key": key, "err": err})
		c.hooks.GenSnapshotError(sk, err)
		res.State = Stale
		res.StaleSince = now
		res.Profile = c.profiles.def.Name
	case g.N != e.Gen && g.BumpedAt.IsZero():
		// the generation was pruned after a long quiet period; treat the
		// entry as aged out rather than invalidated
		res.State = Stale
		res.StaleSince = e.FreshUntil
		if now.Before(res.StaleSince) {
			res.StaleSince = now
		}
		res.Profile = c.profiles.def.Name
	case g.N != e.Gen:
		res.State = Stale
		res.StaleSince = g.BumpedAt
		res.Profile = c.profiles.resolve(g.Profile).Name
	case !now.Before(e.FreshUntil):
		res.State = Stale
		res.StaleSince = e.FreshUntil
		res.Profile = c.profiles.def.Name
	}
	if res.State == Stale {
		p := c.profiles.resolve(res.Profile)
		res.Expired = p.StaleFor > 0 && now.Sub(res.StaleSince) > p.StaleFor
	}
	return res, nil
}

func (c *cache[V]) Put(ctx context.Context, key string, value V, tags []string, freshFor time.Duration) error {
	if !c.enabled {
		return nil
	}
	sk := c.storageKey(key)
	g, err := c.gen.Snapshot(ctx, sk)
	if err != nil {
		c.hooks.GenSnapshotError(sk, err)
		return fmt.Errorf("tagcache: put %q: %w", key, err)
	}
	return c.put(ctx, key, value, tags, freshFor, g.N, time.Time{})
}

// put writes an entry recorded under generation obs. If the generation moved
// since obs was taken the entry lands already stale. startedAt is when the
// value's compute began; a tag invalidated after that also makes the entry
// land stale. A zero startedAt skips that check.
func (c *cache[V]) put(ctx context.Context, key string, value V, tags []string, freshFor time.Duration, obs uint64, startedAt time.Time) error {
	if freshFor <= 0 {
		freshFor = c.freshFor
	}
	tags = normalizeTags(tags)
	payload, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	now := c.now()
	freshUntil := now.Add(freshFor)
	if !startedAt.IsZero() && c.invalidatedSince(tags, startedAt) {
		c.log.Debug("tag invalidated during compute; storing stale", Fields{"key": key})
		freshUntil = now
	}
	wireb, err := wire.EncodeEntry(wire.Entry{
		Gen:        obs,
		CreatedAt:  now,
		FreshUntil: freshUntil,
		Tags:       tags,
		Payload:    payload,
	})
	if err != nil {
		return err
	}

	// index first: an invalidation racing this write then either finds the
	// key (and bumps past obs) or happened before the tags existed here
	if err := c.index.Retag(ctx, key, tags); err != nil {
		c.hooks.IndexError("retag", err)
		return fmt.Errorf("tagcache: retag %q: %w", key, err)
	}
	sk := c.storageKey(key)
	ok, err := c.provider.Set(ctx, sk, wireb, int64(len(wireb)), c.retention)
	if err != nil || !ok {
		// whatever was stored before no longer matches the index
		_ = c.provider.Del(ctx, sk)
		c.dropIndex(ctx, key)
		if err != nil {
			return err
		}
		c.hooks.ProviderSetRejected(sk)
		c.log.Debug("put rejected by provider (pressure)", Fields{"key": key})
	}
	return nil
}

func (c *cache[V]) MarkStale(ctx context.Context, key, profile string) error {
	if !c.enabled {
		return nil
	}
	p, ok := c.profiles.lookup(profile)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	sk := c.storageKey(key)
	if _, err := c.gen.Bump(ctx, sk, p.Name); err != nil {
		c.hooks.GenBumpError(1, err)
		return fmt.Errorf("tagcache: mark stale %q: %w", key, err)
	}
	return nil
}

func (c *cache[V]) InvalidateTag(ctx context.Context, tag, profile string) ([]string, error) {
	if !c.enabled {
		return nil, nil
	}
	p, ok := c.profiles.lookup(profile)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	c.noteInvalidated(tag)

	keys, err := c.index.KeysFor(ctx, tag)
	if err != nil {
		c.hooks.IndexError("keys_for", err)
		return nil, fmt.Errorf("tagcache: keys for tag %q: %w", tag, err)
	}
	if len(keys) > 0 {
		sks := make([]string, len(keys))
		for i, k := range keys {
			sks[i] = c.storageKey(k)
		}
		if err := c.gen.BumpMany(ctx, sks, p.Name); err != nil {
			c.hooks.GenBumpError(len(sks), err)
			return keys, &InvalidateError{Tag: tag, Keys: keys, Err: err}
		}
	}
	c.hooks.TagInvalidated(tag, p.Name, len(keys))
	c.log.Debug("tag invalidated", Fields{"tag": tag, "profile": p.Name, "keys": len(keys)})
	return keys, nil
}

func (c *cache[V]) TagsFor(ctx context.Context, key string) ([]string, error) {
	return c.index.TagsFor(ctx, key)
}

func (c *cache[V]) KeysFor(ctx context.Context, tag string) ([]string, error) {
	return c.index.KeysFor(ctx, tag)
}

func (c *cache[V]) storageKey(userKey string) string {
	// isolate by namespace
	return "entry:" + c.ns + ":" + userKey
}

func (c *cache[V]) selfHeal(ctx context.Context, key, sk, reason string) {
	_ = c.provider.Del(ctx, sk)
	c.dropIndex(ctx, key)
	c.hooks.SelfHeal(sk, reason)
	c.log.Debug("dropped unreadable entry", Fields{"key": key, "reason": reason})
}

func (c *cache[V]) dropIndex(ctx context.Context, key string) {
	if err := c.index.Remove(ctx, key); err != nil {
		c.hooks.IndexError("remove", err)
	}
}

func (c *cache[V]) noteInvalidated(tag string) {
	now := c.now()
	horizon := now.Add(-2 * c.computeTimeout)
	c.recentMu.Lock()
	c.recent[tag] = now
	for t, at := range c.recent {
		if at.Before(horizon) {
			delete(c.recent, t)
		}
	}
	c.recentMu.Unlock()
}

func (c *cache[V]) invalidatedSince(tags []string, since time.Time) bool {
	if len(tags) == 0 {
		return false
	}
	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	for _, t := range tags {
		if at, ok := c.recent[t]; ok && !at.Before(since) {
			return true
		}
	}
	return false
}

// normalizeTags returns the sorted unique non-empty tags.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	n := 0
	for i, t := range out {
		if i == 0 || t != out[n-1] {
			out[n] = t
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return out[:n]
}
