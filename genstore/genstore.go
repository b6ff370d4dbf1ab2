// Package genstore keeps the per-key staleness generation of cached entries.
//
// An entry records the generation observed before its value was computed.
// Bumping the generation marks every entry written under an older
// generation stale without touching the entry itself, so marking stale
// never races with a concurrent write of the value.
package genstore

import (
	"context"
	"time"
)

// Gen is the generation state of one storage key. The zero value means the
// key was never bumped, or its generation was pruned.
type Gen struct {
	N        uint64
	Profile  string    // revalidation profile named by the last bump
	BumpedAt time.Time // zero if never bumped
}

// GenStore abstracts where generations live.
// Use Local (default) for in-process gens, or Redis for gens shared by replicas.
type GenStore interface {
	// Snapshot returns the current generation; missing => zero Gen.
	Snapshot(ctx context.Context, storageKey string) (Gen, error)
	// Bump atomically moves the key to a generation number never issued
	// before by this store, records profile, and returns the new state.
	// Numbers only grow, but are not consecutive per key.
	Bump(ctx context.Context, storageKey, profile string) (Gen, error)
	// BumpMany bumps every key. Not atomic across keys.
	BumpMany(ctx context.Context, storageKeys []string, profile string) error
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
