package tagindex

import (
	"context"
	"sort"
	"sync"
)

// Local keeps the index in process memory under a single RWMutex.
type Local struct {
	mu    sync.RWMutex
	byTag map[string]map[string]struct{}
	byKey map[string]map[string]struct{}
}

var _ Index = (*Local)(nil)

func NewLocal() *Local {
	return &Local{
		byTag: make(map[string]map[string]struct{}),
		byKey: make(map[string]map[string]struct{}),
	}
}

func (l *Local) TagsFor(_ context.Context, key string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedSet(l.byKey[key]), nil
}

func (l *Local) KeysFor(_ context.Context, tag string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedSet(l.byTag[tag]), nil
}

func (l *Local) Retag(_ context.Context, key string, tags []string) error {
	tags = dedupe(tags)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlink(key)
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
		keys := l.byTag[t]
		if keys == nil {
			keys = make(map[string]struct{})
			l.byTag[t] = keys
		}
		keys[key] = struct{}{}
	}
	l.byKey[key] = set
	return nil
}

func (l *Local) Remove(_ context.Context, key string) error {
	l.mu.Lock()
	l.unlink(key)
	l.mu.Unlock()
	return nil
}

// unlink removes key from both directions. Caller holds the write lock.
func (l *Local) unlink(key string) {
	for t := range l.byKey[key] {
		keys := l.byTag[t]
		delete(keys, key)
		if len(keys) == 0 {
			delete(l.byTag, t)
		}
	}
	delete(l.byKey, key)
}

func (l *Local) Close(context.Context) error { return nil }

// Len reports the number of keys and tags currently indexed.
func (l *Local) Len() (keys, tags int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byKey), len(l.byTag)
}

func sortedSet(s map[string]struct{}) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
