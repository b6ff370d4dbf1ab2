// Package tagindex maps entity tags to the cache keys whose value depends on
// them, and back.
//
// For every (tag, key) association both directions are present, and Retag
// replaces the tag set of a key as one step: a concurrent KeysFor observes
// either the old or the new associations of that key, never a mix.
package tagindex

import "context"

// Index is a bidirectional tag <-> key index. Implementations must be safe
// for concurrent use.
type Index interface {
	// TagsFor returns the tags currently associated with key (sorted).
	TagsFor(ctx context.Context, key string) ([]string, error)
	// KeysFor returns the keys currently associated with tag (sorted).
	KeysFor(ctx context.Context, tag string) ([]string, error)
	// Retag replaces the tag set of key with tags. Duplicates are collapsed.
	Retag(ctx context.Context, key string, tags []string) error
	// Remove drops every association of key.
	Remove(ctx context.Context, key string) error
	// Close releases resources (no-op ok).
	Close(context.Context) error
}

func dedupe(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
