package tagcache

import "time"

const (
	defaultFreshFor       = 15 * time.Minute
	defaultComputeTimeout = 10 * time.Second
	defaultRefreshWorkers = 4
	defaultRefreshQueue   = 256
	defaultGenRetention   = 30 * 24 * time.Hour
	defaultSweep          = time.Hour
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
