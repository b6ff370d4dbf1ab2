package tagcache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	c "github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/genstore"
	pr "github.com/unkn0wn-root/tagcache/provider"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu sync.Mutex
	m  map[string]memEntry
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = memEntry{v: value, exp: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

type article struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type recHooks struct {
	NopHooks
	mu            sync.Mutex
	refreshFailed []string
	selfHeal      []string
	dropped       int
}

func (h *recHooks) RefreshFailed(key string, _ error) {
	h.mu.Lock()
	h.refreshFailed = append(h.refreshFailed, key)
	h.mu.Unlock()
}

func (h *recHooks) SelfHeal(_ string, reason string) {
	h.mu.Lock()
	h.selfHeal = append(h.selfHeal, reason)
	h.mu.Unlock()
}

func (h *recHooks) RefreshDropped(string) {
	h.mu.Lock()
	h.dropped++
	h.mu.Unlock()
}

func (h *recHooks) failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.refreshFailed)
}

func newTestCache(t *testing.T, mp pr.Provider, optsOpt func(*Options[[]article])) Cache[[]article] {
	t.Helper()
	opts := Options[[]article]{
		Namespace: "articles",
		Provider:  mp,
		Codec:     c.JSON[[]article]{},
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := New[[]article](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(context.Background()) })
	return cc
}

func mustImpl[V any](t *testing.T, c Cache[V]) *cache[V] {
	t.Helper()
	impl, ok := c.(*cache[V])
	if !ok {
		t.Fatalf("unexpected concrete type for Cache")
	}
	return impl
}

func mustGet(t *testing.T, cc Cache[[]article], key string) Result[[]article] {
	t.Helper()
	res, err := cc.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return res
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func staticLoader(v []article, tags ...string) Loader[[]article] {
	return func(context.Context) ([]article, []string, error) { return v, tags, nil }
}

var (
	hello = []article{{ID: "e1", Title: "Hello"}}
	world = []article{{ID: "e1", Title: "Hello, world"}}
)

// ==============================
// Content cache
// ==============================

func TestPutGetMarkStale(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)

	if res := mustGet(t, cc, "k"); res.State != Missing {
		t.Fatalf("expected Missing, got %v", res.State)
	}
	if err := cc.Put(ctx, "k", hello, []string{"e1"}, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	res := mustGet(t, cc, "k")
	if res.State != Fresh || !reflect.DeepEqual(res.Value, hello) || !reflect.DeepEqual(res.Tags, []string{"e1"}) {
		t.Fatalf("after Put: %+v", res)
	}

	if err := cc.MarkStale(ctx, "k", ""); err != nil {
		t.Fatalf("MarkStale: %v", err)
	}
	res = mustGet(t, cc, "k")
	if res.State != Stale || !reflect.DeepEqual(res.Value, hello) || res.Profile != "max" {
		t.Fatalf("after MarkStale: %+v", res)
	}
	if tags, _ := cc.TagsFor(ctx, "k"); !reflect.DeepEqual(tags, []string{"e1"}) {
		t.Fatalf("MarkStale touched tags: %v", tags)
	}

	// marking again changes nothing observable
	_ = cc.MarkStale(ctx, "k", "")
	if again := mustGet(t, cc, "k"); again.State != Stale || !reflect.DeepEqual(again.Value, hello) {
		t.Fatalf("second MarkStale: %+v", again)
	}

	// only Put clears staleness
	if err := cc.Put(ctx, "k", world, []string{"e1"}, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res := mustGet(t, cc, "k"); res.State != Fresh || !reflect.DeepEqual(res.Value, world) {
		t.Fatalf("after second Put: %+v", res)
	}
}

func TestFreshnessHorizonElapses(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)
	impl := mustImpl(t, cc)
	base := time.Now()
	impl.now = func() time.Time { return base }

	_ = cc.Put(ctx, "k", hello, nil, time.Minute)
	impl.now = func() time.Time { return base.Add(59 * time.Second) }
	if res := mustGet(t, cc, "k"); res.State != Fresh {
		t.Fatalf("expected Fresh before horizon, got %v", res.State)
	}
	impl.now = func() time.Time { return base.Add(time.Minute) }
	res := mustGet(t, cc, "k")
	if res.State != Stale || res.Expired || !res.StaleSince.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected Stale at horizon, got %+v", res)
	}
}

func TestStaleWindowExpiresByProfile(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)
	impl := mustImpl(t, cc)
	base := time.Now()
	impl.now = func() time.Time { return base }

	_ = cc.Put(ctx, "k", hello, []string{"e1"}, time.Hour)
	if _, err := cc.InvalidateTag(ctx, "e1", "seconds"); err != nil {
		t.Fatalf("InvalidateTag: %v", err)
	}
	if res := mustGet(t, cc, "k"); res.State != Stale || res.Expired || res.Profile != "seconds" {
		t.Fatalf("expected servable stale, got %+v", res)
	}

	// profile "seconds" allows one minute of stale serving
	impl.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if res := mustGet(t, cc, "k"); res.State != Stale || !res.Expired {
		t.Fatalf("expected expired stale, got %+v", res)
	}

	// Fetch treats it as missing and blocks on a recompute
	got, err := cc.Fetch(ctx, "k", staticLoader(world, "e1"))
	if err != nil || !reflect.DeepEqual(got, world) {
		t.Fatalf("Fetch on expired stale: %v %v", got, err)
	}
}

func TestUnknownProfileRejected(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)
	_ = cc.Put(ctx, "k", hello, []string{"e1"}, 0)

	if err := cc.MarkStale(ctx, "k", "fortnight"); !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("MarkStale: expected ErrUnknownProfile, got %v", err)
	}
	if _, err := cc.InvalidateTag(ctx, "e1", "fortnight"); !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("InvalidateTag: expected ErrUnknownProfile, got %v", err)
	}
	if res := mustGet(t, cc, "k"); res.State != Fresh {
		t.Fatalf("rejected invalidation mutated state: %v", res.State)
	}
}

func TestCustomProfile(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), func(o *Options[[]article]) {
		o.Profiles = []Profile{{Name: "brief", StaleFor: time.Second}}
		o.DefaultProfile = "brief"
	})
	_ = cc.Put(ctx, "k", hello, []string{"e1"}, 0)
	_, _ = cc.InvalidateTag(ctx, "e1", "")
	if res := mustGet(t, cc, "k"); res.Profile != "brief" {
		t.Fatalf("default profile not applied: %q", res.Profile)
	}

	if _, err := New[[]article](Options[[]article]{
		Namespace: "x", Provider: newMemProvider(), Codec: c.JSON[[]article]{}, DefaultProfile: "nope",
	}); !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile for bad default, got %v", err)
	}
}

// ==============================
// Tag invalidation
// ==============================

func TestInvalidateTagMarksEveryTaggedKey(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)

	_ = cc.Put(ctx, "list", []article{{ID: "e1"}, {ID: "e2"}}, []string{"e1", "e2"}, 0)
	_ = cc.Put(ctx, "one", hello, []string{"e1"}, 0)
	_ = cc.Put(ctx, "other", []article{{ID: "e3"}}, []string{"e3"}, 0)

	keys, err := cc.InvalidateTag(ctx, "e1", "")
	if err != nil {
		t.Fatalf("InvalidateTag: %v", err)
	}
	sort.Strings(keys)
	if !reflect.DeepEqual(keys, []string{"list", "one"}) {
		t.Fatalf("affected keys = %v", keys)
	}
	for _, k := range []string{"list", "one"} {
		if res := mustGet(t, cc, k); res.State != Stale {
			t.Fatalf("%s: expected Stale, got %v", k, res.State)
		}
	}
	if res := mustGet(t, cc, "other"); res.State != Fresh {
		t.Fatalf("untagged key affected: %v", res.State)
	}
}

func TestInvalidateTagIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)
	_ = cc.Put(ctx, "k", hello, []string{"e1"}, 0)

	_, _ = cc.InvalidateTag(ctx, "e1", "")
	once := mustGet(t, cc, "k")
	_, _ = cc.InvalidateTag(ctx, "e1", "")
	twice := mustGet(t, cc, "k")

	if once.State != twice.State || !reflect.DeepEqual(once.Value, twice.Value) ||
		!reflect.DeepEqual(once.Tags, twice.Tags) || once.Profile != twice.Profile || once.Expired != twice.Expired {
		t.Fatalf("repeated invalidation changed state: %+v vs %+v", once, twice)
	}
}

func TestInvalidateTagWithoutKeys(t *testing.T) {
	cc := newTestCache(t, newMemProvider(), nil)
	keys, err := cc.InvalidateTag(context.Background(), "nobody-uses-this", "")
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected no keys and no error, got %v %v", keys, err)
	}
}

func TestStaleUntilNextPut(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)
	_ = cc.Put(ctx, "k", hello, []string{"e1"}, 0)
	_, _ = cc.InvalidateTag(ctx, "e1", "")

	for i := 0; i < 5; i++ {
		if res := mustGet(t, cc, "k"); res.State != Stale {
			t.Fatalf("read %d: expected Stale, got %v", i, res.State)
		}
	}
	_ = cc.Put(ctx, "k", world, []string{"e1"}, 0)
	if res := mustGet(t, cc, "k"); res.State != Fresh {
		t.Fatalf("expected Fresh after Put, got %v", res.State)
	}
}

func TestInvalidationAfterGenerationPruneIsStale(t *testing.T) {
	ctx := context.Background()
	gs := genstore.NewLocal(0, 0)
	cc := newTestCache(t, newMemProvider(), func(o *Options[[]article]) { o.GenStore = gs })

	_ = cc.Put(ctx, "k", hello, []string{"e1"}, 0)
	_, _ = cc.InvalidateTag(ctx, "e1", "")
	// the refresh lands under the bumped generation
	_ = cc.Put(ctx, "k", world, []string{"e1"}, 0)
	if res := mustGet(t, cc, "k"); res.State != Fresh {
		t.Fatalf("expected Fresh after Put, got %v", res.State)
	}

	time.Sleep(5 * time.Millisecond)
	gs.Cleanup(time.Millisecond)

	keys, err := cc.InvalidateTag(ctx, "e1", "")
	if err != nil || len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("InvalidateTag: %v %v", keys, err)
	}
	if res := mustGet(t, cc, "k"); res.State != Stale {
		t.Fatalf("expected Stale after invalidation, got %v", res.State)
	}
}

func TestPrunedGenerationReadsAsAgedOut(t *testing.T) {
	ctx := context.Background()
	gs := genstore.NewLocal(0, 0)
	cc := newTestCache(t, newMemProvider(), func(o *Options[[]article]) {
		o.GenStore = gs
		o.DefaultProfile = "max"
	})
	_ = cc.Put(ctx, "k", hello, []string{"e1"}, 0)
	_, _ = cc.InvalidateTag(ctx, "e1", "")
	_ = cc.Put(ctx, "k", world, []string{"e1"}, 0)

	time.Sleep(5 * time.Millisecond)
	gs.Cleanup(time.Millisecond)

	res := mustGet(t, cc, "k")
	if res.State != Stale || res.Expired || res.Profile != "max" {
		t.Fatalf("got state=%v expired=%v profile=%q", res.State, res.Expired, res.Profile)
	}
	if res.Value[0].Title != "Hello, world" {
		t.Fatalf("unexpected value %+v", res.Value)
	}
}

// TestIndexMatchesEntries runs random put/markStale/invalidate sequences and
// checks after every step that each stored entry's tags equal the index.
func TestIndexMatchesEntries(t *testing.T) {
	ctx := context.Background()
	for seed := int64(1); seed <= 10; seed++ {
		rng := rand.New(rand.NewSource(seed))
		mp := newMemProvider()
		cc := newTestCache(t, mp, nil)

		for step := 0; step < 200; step++ {
			key := fmt.Sprintf("k%d", rng.Intn(6))
			tag := fmt.Sprintf("e%d", rng.Intn(5))
			switch rng.Intn(3) {
			case 0:
				tags := make([]string, rng.Intn(4))
				for i := range tags {
					tags[i] = fmt.Sprintf("e%d", rng.Intn(5))
				}
				if err := cc.Put(ctx, key, hello, tags, 0); err != nil {
					t.Fatalf("Put: %v", err)
				}
			case 1:
				_ = cc.MarkStale(ctx, key, "")
			case 2:
				_, _ = cc.InvalidateTag(ctx, tag, "")
			}

			for i := 0; i < 6; i++ {
				k := fmt.Sprintf("k%d", i)
				idx, _ := cc.TagsFor(ctx, k)
				res := mustGet(t, cc, k)
				if res.State == Missing {
					if len(idx) != 0 {
						t.Fatalf("seed %d step %d: missing %s still indexed with %v", seed, step, k, idx)
					}
					continue
				}
				if !reflect.DeepEqual(idx, res.Tags) {
					t.Fatalf("seed %d step %d: %s entry tags %v, index %v", seed, step, k, res.Tags, idx)
				}
				for _, tg := range idx {
					keys, _ := cc.KeysFor(ctx, tg)
					if j := sort.SearchStrings(keys, k); j == len(keys) || keys[j] != k {
						t.Fatalf("seed %d step %d: KeysFor(%s) = %v lacks %s", seed, step, tg, keys, k)
					}
				}
			}
		}
	}
}

// ==============================
// Revalidation
// ==============================

func TestFetchMissingComputesAndStores(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)

	var calls atomic.Int32
	load := func(context.Context) ([]article, []string, error) {
		calls.Add(1)
		return hello, []string{"e1"}, nil
	}
	for i := 0; i < 3; i++ {
		got, err := cc.Fetch(ctx, "k", load)
		if err != nil || !reflect.DeepEqual(got, hello) {
			t.Fatalf("Fetch %d: %v %v", i, got, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one compute, got %d", calls.Load())
	}
	if keys, _ := cc.KeysFor(ctx, "e1"); !reflect.DeepEqual(keys, []string{"k"}) {
		t.Fatalf("computed entry not tagged: %v", keys)
	}
}

func TestFetchMissingIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)

	const readers = 32
	release := make(chan struct{})
	var calls atomic.Int32
	load := func(context.Context) ([]article, []string, error) {
		calls.Add(1)
		<-release
		return hello, []string{"e1"}, nil
	}

	var wg sync.WaitGroup
	results := make([][]article, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cc.Fetch(ctx, "k", load)
		}(i)
	}
	eventually(t, "first compute to start", func() bool { return calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond) // let the other readers pile up
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one compute, got %d", calls.Load())
	}
	for i := range results {
		if errs[i] != nil || !reflect.DeepEqual(results[i], hello) {
			t.Fatalf("reader %d: %v %v", i, results[i], errs[i])
		}
	}
}

func TestFetchStaleReturnsWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)
	_ = cc.Put(ctx, "k", hello, []string{"e1"}, 0)
	_, _ = cc.InvalidateTag(ctx, "e1", "")

	release := make(chan struct{})
	var calls atomic.Int32
	slow := func(context.Context) ([]article, []string, error) {
		calls.Add(1)
		<-release
		return world, []string{"e1"}, nil
	}

	for i := 0; i < 10; i++ {
		start := time.Now()
		got, err := cc.Fetch(ctx, "k", slow)
		if err != nil || !reflect.DeepEqual(got, hello) {
			t.Fatalf("stale Fetch %d: %v %v", i, got, err)
		}
		if d := time.Since(start); d > 200*time.Millisecond {
			t.Fatalf("stale Fetch blocked for %v", d)
		}
	}
	close(release)

	eventually(t, "background refresh", func() bool {
		res := mustGet(t, cc, "k")
		return res.State == Fresh && reflect.DeepEqual(res.Value, world)
	})
	if calls.Load() != 1 {
		t.Fatalf("expected one background compute for 10 stale reads, got %d", calls.Load())
	}
}

type parentRecorder struct {
	noop.Tracer
	mu      sync.Mutex
	parents []trace.SpanContext
}

func (r *parentRecorder) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.parents = append(r.parents, trace.SpanContextFromContext(ctx))
	r.mu.Unlock()
	return r.Tracer.Start(ctx, name, opts...)
}

func (r *parentRecorder) last() trace.SpanContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.parents) == 0 {
		return trace.SpanContext{}
	}
	return r.parents[len(r.parents)-1]
}

func TestBackgroundRefreshJoinsRequestTrace(t *testing.T) {
	rec := &parentRecorder{}
	cc := newTestCache(t, newMemProvider(), func(o *Options[[]article]) { o.Tracer = rec })
	_ = cc.Put(context.Background(), "k", hello, []string{"e1"}, 0)
	_ = cc.MarkStale(context.Background(), "k", "")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	reqCtx, cancel := context.WithCancel(trace.ContextWithSpanContext(context.Background(), sc))
	v, err := cc.Fetch(reqCtx, "k", staticLoader(world, "e1"))
	cancel() // the request ending must not cancel its refresh
	if err != nil || v[0].Title != "Hello" {
		t.Fatalf("expected stale value, got %v %v", v, err)
	}

	eventually(t, "refresh to land", func() bool {
		return mustGet(t, cc, "k").State == Fresh
	})
	if got := rec.last(); got.TraceID() != sc.TraceID() || got.SpanID() != sc.SpanID() {
		t.Fatalf("refresh span parent = %v/%v, want %v/%v", got.TraceID(), got.SpanID(), sc.TraceID(), sc.SpanID())
	}
}

func TestStaleRefreshFailureKeepsServing(t *testing.T) {
	ctx := context.Background()
	hooks := &recHooks{}
	cc := newTestCache(t, newMemProvider(), func(o *Options[[]article]) { o.Hooks = hooks })
	_ = cc.Put(ctx, "k", hello, []string{"e1"}, 0)
	_ = cc.MarkStale(ctx, "k", "")

	boom := errors.New("contentful down")
	failing := func(context.Context) ([]article, []string, error) { return nil, nil, boom }

	got, err := cc.Fetch(ctx, "k", failing)
	if err != nil || !reflect.DeepEqual(got, hello) {
		t.Fatalf("stale Fetch must not surface refresh errors: %v %v", got, err)
	}
	eventually(t, "refresh failure", func() bool { return hooks.failures() == 1 })
	if res := mustGet(t, cc, "k"); res.State != Stale || !reflect.DeepEqual(res.Value, hello) {
		t.Fatalf("failed refresh changed entry: %+v", res)
	}

	// next read retries
	_, _ = cc.Fetch(ctx, "k", failing)
	eventually(t, "second refresh attempt", func() bool { return hooks.failures() == 2 })
}

func TestFetchMissingComputeFailurePropagates(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)

	boom := errors.New("contentful down")
	_, err := cc.Fetch(ctx, "k", func(context.Context) ([]article, []string, error) { return nil, nil, boom })
	if !errors.Is(err, ErrUpstreamCompute) || !errors.Is(err, boom) {
		t.Fatalf("expected upstream compute error wrapping cause, got %v", err)
	}
	var ce *ComputeError
	if !errors.As(err, &ce) || ce.Key != "k" {
		t.Fatalf("expected *ComputeError for k, got %#v", err)
	}
	if res := mustGet(t, cc, "k"); res.State != Missing {
		t.Fatalf("failed compute stored something: %v", res.State)
	}
}

func TestComputeTimeoutLeavesPriorState(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), func(o *Options[[]article]) {
		o.ComputeTimeout = 30 * time.Millisecond
	})

	hang := func(ctx context.Context) ([]article, []string, error) {
		<-ctx.Done()
		return world, []string{"e1"}, nil // late value must be discarded
	}
	if _, err := cc.Fetch(ctx, "k", hang); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if res := mustGet(t, cc, "k"); res.State != Missing {
		t.Fatalf("timed-out compute stored a value: %v", res.State)
	}
}

func TestLoaderPanicBecomesComputeError(t *testing.T) {
	cc := newTestCache(t, newMemProvider(), nil)
	_, err := cc.Fetch(context.Background(), "k", func(context.Context) ([]article, []string, error) {
		panic("bad template")
	})
	if !errors.Is(err, ErrUpstreamCompute) {
		t.Fatalf("expected ErrUpstreamCompute from panic, got %v", err)
	}
}

func TestFetchCallerCancelDoesNotCancelCompute(t *testing.T) {
	cc := newTestCache(t, newMemProvider(), nil)

	release := make(chan struct{})
	load := func(ctx context.Context) ([]article, []string, error) {
		<-release
		return hello, nil, ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cc.Fetch(ctx, "k", load)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected caller cancellation, got %v", err)
	}
	close(release)
	eventually(t, "detached compute to store", func() bool {
		return mustGet(t, cc, "k").State == Fresh
	})
}

func TestInvalidationDuringComputeLandsStale(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)

	// key already tagged: the generation moves under the compute
	_ = cc.Put(ctx, "known", hello, []string{"e1"}, 0)
	impl := mustImpl(t, cc)
	_, err := impl.loadShared(ctx, "known", func(ctx context.Context) ([]article, []string, error) {
		_, _ = cc.InvalidateTag(ctx, "e1", "")
		return world, []string{"e1"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res := mustGet(t, cc, "known"); res.State != Stale {
		t.Fatalf("write racing an invalidation must land stale, got %v", res.State)
	}

	// key not yet tagged: the index had nothing to bump
	_, err = cc.Fetch(ctx, "fresh-key", func(ctx context.Context) ([]article, []string, error) {
		_, _ = cc.InvalidateTag(ctx, "e9", "")
		return world, []string{"e9"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res := mustGet(t, cc, "fresh-key"); res.State != Stale {
		t.Fatalf("tag invalidated mid-compute must land stale, got %v", res.State)
	}
}

// ==============================
// Self-heal
// ==============================

func TestSelfHealOnCorrupt(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recHooks{}
	cc := newTestCache(t, mp, func(o *Options[[]article]) { o.Hooks = hooks })
	impl := mustImpl(t, cc)

	_ = cc.Put(ctx, "k", hello, []string{"e1"}, 0)
	sk := impl.storageKey("k")
	_, _ = mp.Set(ctx, sk, []byte("not-wire-format"), 1, 0)

	if res := mustGet(t, cc, "k"); res.State != Missing {
		t.Fatalf("corrupt entry should read Missing, got %v", res.State)
	}
	if mp.has(sk) {
		t.Fatalf("corrupt entry was not deleted")
	}
	if keys, _ := cc.KeysFor(ctx, "e1"); len(keys) != 0 {
		t.Fatalf("corrupt entry left index associations: %v", keys)
	}
	if len(hooks.selfHeal) != 1 || hooks.selfHeal[0] != "corrupt" {
		t.Fatalf("self-heal hooks = %v", hooks.selfHeal)
	}
}

func TestProviderEvictionDropsIndex(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)
	impl := mustImpl(t, cc)

	_ = cc.Put(ctx, "k", hello, []string{"e1"}, 0)
	_ = mp.Del(ctx, impl.storageKey("k")) // provider evicted it

	if res := mustGet(t, cc, "k"); res.State != Missing {
		t.Fatalf("expected Missing, got %v", res.State)
	}
	if tags, _ := cc.TagsFor(ctx, "k"); len(tags) != 0 {
		t.Fatalf("evicted key still indexed: %v", tags)
	}
}

func TestDisabledAlwaysComputes(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), func(o *Options[[]article]) { o.Disabled = true })

	var calls atomic.Int32
	load := func(context.Context) ([]article, []string, error) {
		calls.Add(1)
		return hello, nil, nil
	}
	for i := 0; i < 3; i++ {
		if _, err := cc.Fetch(ctx, "k", load); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 3 {
		t.Fatalf("disabled cache should compute every time, got %d", calls.Load())
	}
	if cc.Enabled() {
		t.Fatalf("Enabled() = true")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New[[]article](Options[[]article]{Codec: c.JSON[[]article]{}, Namespace: "x"}); err == nil {
		t.Fatalf("expected error without provider")
	}
	if _, err := New[[]article](Options[[]article]{Provider: newMemProvider(), Namespace: "x"}); err == nil {
		t.Fatalf("expected error without codec")
	}
	if _, err := New[[]article](Options[[]article]{Provider: newMemProvider(), Codec: c.JSON[[]article]{}}); err == nil {
		t.Fatalf("expected error without namespace")
	}
}

func TestNormalizeTags(t *testing.T) {
	got := normalizeTags([]string{"b", "", "a", "b", "a"})
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("normalizeTags = %v", got)
	}
	if normalizeTags([]string{""}) != nil {
		t.Fatalf("expected nil for only-empty tags")
	}
}
