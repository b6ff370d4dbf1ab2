package tagcache

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamCompute matches every error returned by a loader during
	// Fetch (errors.Is).
	ErrUpstreamCompute = errors.New("tagcache: upstream compute failed")

	// ErrUnknownProfile is returned for revalidation profile names that are
	// neither built in nor configured.
	ErrUnknownProfile = errors.New("tagcache: unknown revalidation profile")
)

// ComputeError wraps a loader failure (including timeouts and panics) for
// one cache key.
type ComputeError struct {
	Key string
	Err error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("tagcache: compute %q: %v", e.Key, e.Err)
}

func (e *ComputeError) Unwrap() []error { return []error{ErrUpstreamCompute, e.Err} }

// InvalidateError reports a tag invalidation that found keys but could not
// bump their generations (likely a GenStore outage).
type InvalidateError struct {
	Tag  string
	Keys []string
	Err  error
}

func (e *InvalidateError) Error() string {
	return fmt.Sprintf("tagcache: invalidate tag %q (%d keys): %v", e.Tag, len(e.Keys), e.Err)
}

func (e *InvalidateError) Unwrap() error { return e.Err }
