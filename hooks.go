package tagcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; wrap slow sinks with
// hooks/async.
type Hooks interface {
	// Lookup reports the state observed by every Fetch. expired is true for
	// a stale entry past its profile window (recomputed like a miss).
	Lookup(state State, expired bool)

	// A stored entry was dropped on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A background refresh failed; the stale value keeps serving.
	RefreshFailed(key string, err error)

	// The refresh queue was full; the next stale read retries.
	RefreshDropped(key string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// GenStore errors. count is the number of keys involved.
	GenSnapshotError(storageKey string, err error)
	GenBumpError(count int, err error)

	// Tag index errors. op ∈ {"retag", "remove", "keys_for"}
	IndexError(op string, err error)

	// A tag invalidation marked keys entries stale.
	TagInvalidated(tag, profile string, keys int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Lookup(State, bool)                 {}
func (NopHooks) SelfHeal(string, string)            {}
func (NopHooks) RefreshFailed(string, error)        {}
func (NopHooks) RefreshDropped(string)              {}
func (NopHooks) ProviderSetRejected(string)         {}
func (NopHooks) GenSnapshotError(string, error)     {}
func (NopHooks) GenBumpError(int, error)            {}
func (NopHooks) IndexError(string, error)           {}
func (NopHooks) TagInvalidated(string, string, int) {}
