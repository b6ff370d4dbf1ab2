package tagcache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	c "github.com/unkn0wn-root/tagcache/codec"
	gen "github.com/unkn0wn-root/tagcache/genstore"
	pr "github.com/unkn0wn-root/tagcache/provider"
	ti "github.com/unkn0wn-root/tagcache/tagindex"
)

// Loader computes the value for one cache key and reports the entity tags
// the value depends on. It runs detached from the caller's cancellation,
// bounded by Options.ComputeTimeout.
type Loader[V any] func(ctx context.Context) (value V, tags []string, err error)

// Cache is a tag-indexed content cache with stale-while-revalidate reads.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	// Fetch returns the value for key, computing it with load when the key is
	// missing, and refreshing it in the background when it is stale.
	Fetch(ctx context.Context, key string, load Loader[V]) (V, error)

	// Get is a pure lookup. It never computes.
	Get(ctx context.Context, key string) (Result[V], error)
	// Put installs a new entry fresh for freshFor (0 => Options.FreshFor) and
	// retags the key to exactly tags. Put is the only way to clear Stale.
	Put(ctx context.Context, key string, value V, tags []string, freshFor time.Duration) error
	// MarkStale flags key stale under profile ("" => default). The value and
	// its tags stay in place. Idempotent.
	MarkStale(ctx context.Context, key, profile string) error
	// InvalidateTag marks every key tagged with tag stale and returns them.
	InvalidateTag(ctx context.Context, tag, profile string) ([]string, error)

	TagsFor(ctx context.Context, key string) ([]string, error)
	KeysFor(ctx context.Context, tag string) ([]string, error)

	Enabled() bool
	Close(context.Context) error
}

// Options tune the cache. Only Namespace, Provider and Codec are required;
// others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "articles"
	Provider  pr.Provider
	Codec     c.Codec[V]

	Index    ti.Index     // nil => tagindex.Local
	GenStore gen.GenStore // nil => genstore.Local
	Logger   Logger       // nil => NopLogger
	Hooks    Hooks        // nil => NopHooks
	Tracer   trace.Tracer // nil => otel global tracer provider

	FreshFor       time.Duration // freshness horizon of computed entries; 0 => 15m
	Retention      time.Duration // provider TTL of entries; 0 => provider decides (no expiry)
	ComputeTimeout time.Duration // bound on one loader run; 0 => 10s
	DefaultProfile string        // "" => "max"
	Profiles       []Profile     // extra profiles on top of the built-ins

	RefreshWorkers int // background refresh workers; 0 => 4
	RefreshQueue   int // pending refreshes before dropping; 0 => 256

	CleanupInterval time.Duration // local genstore sweep; 0 => 1h
	GenRetention    time.Duration // local genstore retention; 0 => 30d

	Disabled bool // default false (enabled); disabled => Fetch always computes
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
