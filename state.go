package tagcache

import "time"

// State is the freshness of a cache key as observed by Get.
type State uint8

const (
	Missing State = iota
	Fresh
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "missing"
	}
}

// Result is what Get observed for one key. Value, Tags and the timestamps
// are zero for Missing.
type Result[V any] struct {
	State      State
	Value      V
	Tags       []string
	CreatedAt  time.Time
	FreshUntil time.Time

	// StaleSince is when the entry became stale (invalidation or freshness
	// horizon), and Profile the policy governing how long it may be served.
	StaleSince time.Time
	Profile    string

	// Expired marks a Stale entry past its profile's stale window. Fetch
	// treats it like Missing.
	Expired bool
}
