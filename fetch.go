package tagcache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/tagcache/internal/pool"
)

func (c *cache[V]) Fetch(ctx context.Context, key string, load Loader[V]) (V, error) {
	if !c.enabled {
		return c.compute(ctx, key, load, false)
	}

	res, err := c.Get(ctx, key)
	if err != nil {
		// provider outage: nothing to serve, fall through to a compute
		c.log.Warn("cache read failed; computing", Fields{"key": key, "err": err})
	}
	c.hooks.Lookup(res.State, res.Expired)

	switch {
	case res.State == Fresh:
		return res.Value, nil
	case res.State == Stale && !res.Expired:
		c.refreshAsync(ctx, key, load)
		return res.Value, nil
	}
	return c.loadShared(ctx, key, load)
}

// loadShared blocks on the single in-flight compute for key. The caller may
// give up early via ctx; the compute itself keeps running for the others.
func (c *cache[V]) loadShared(ctx context.Context, key string, load Loader[V]) (V, error) {
	var zero V
	detached := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(key, func() (any, error) {
		return c.compute(detached, key, load, true)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		v, _ := r.Val.(V) // nil interface V comes back as a nil any
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// refreshAsync queues one background refresh for key unless one is already
// queued or running. The refresh joins the trace of the read that found the
// entry stale but not its cancellation or deadline.
func (c *cache[V]) refreshAsync(ctx context.Context, key string, load Loader[V]) {
	parent := trace.SpanContextFromContext(ctx)
	c.rmu.Lock()
	if _, busy := c.inFly[key]; busy {
		c.rmu.Unlock()
		return
	}
	c.inFly[key] = struct{}{}
	c.rmu.Unlock()

	queued := c.pool.TrySubmit(func() {
		if err := c.refresh(parent, key, load); err != nil {
			c.log.Warn("background refresh failed; serving stale", Fields{"key": key, "err": err})
			c.hooks.RefreshFailed(key, err)
		}
	})
	if !queued {
		c.refreshDone(key)
		c.hooks.RefreshDropped(key)
		c.log.Debug("refresh queue full; dropped", Fields{"key": key})
	}
}

// refresh releases key for the next stale read before returning.
func (c *cache[V]) refresh(parent trace.SpanContext, key string, load Loader[V]) error {
	defer c.refreshDone(key)
	ctx := trace.ContextWithSpanContext(context.Background(), parent)
	_, err, _ := c.sf.Do(key, func() (any, error) {
		return c.compute(ctx, key, load, true)
	})
	return err
}

func (c *cache[V]) refreshDone(key string) {
	c.rmu.Lock()
	delete(c.inFly, key)
	c.rmu.Unlock()
}

// compute runs load under ComputeTimeout and, when store is set, writes the
// result. A failed or timed-out compute leaves the stored entry untouched.
func (c *cache[V]) compute(parent context.Context, key string, load Loader[V], store bool) (V, error) {
	var zero V
	ctx, cancel := context.WithTimeout(parent, c.computeTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "tagcache.compute",
		trace.WithAttributes(
			attribute.String("tagcache.namespace", c.ns),
			attribute.String("tagcache.key", key),
		))
	defer span.End()

	// snapshot before loading: an invalidation during the load moves the
	// generation past obs and the write lands stale
	var obs uint64
	if store {
		sk := c.storageKey(key)
		g, err := c.gen.Snapshot(ctx, sk)
		if err != nil {
			c.hooks.GenSnapshotError(sk, err)
			store = false
		}
		obs = g.N
	}
	startedAt := c.now()

	v, tags, err := safeLoad(ctx, load)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute failed")
		return zero, &ComputeError{Key: key, Err: err}
	}
	span.SetAttributes(attribute.Int("tagcache.tags", len(tags)))

	if store {
		if err := c.put(ctx, key, v, tags, 0, obs, startedAt); err != nil {
			// the caller still gets the value; the next read recomputes
			c.log.Warn("storing computed value failed", Fields{"key": key, "err": err})
		}
	}
	c.log.Debug("computed", Fields{"key": key, "tags": len(tags), "took": c.now().Sub(startedAt)})
	return v, nil
}

func safeLoad[V any](ctx context.Context, load Loader[V]) (v V, tags []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pool.PanicError(r)
		}
	}()
	return load(ctx)
}
