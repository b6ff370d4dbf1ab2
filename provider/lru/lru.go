// Package lru is a size-capped in-process provider built on
// hashicorp/golang-lru. It is the default provider: the cache never deletes
// entries itself, so the LRU bound is what keeps memory in check.
package lru

import (
	"context"
	"errors"
	"time"

	hlru "github.com/hashicorp/golang-lru/v2"

	pr "github.com/unkn0wn-root/tagcache/provider"
)

type item struct {
	b   []byte
	exp time.Time // zero => no expiry
}

type LRU struct {
	c   *hlru.Cache[string, item]
	now func() time.Time
}

var _ pr.Provider = (*LRU)(nil)

type Config struct {
	// MaxEntries caps the number of stored entries. Required.
	MaxEntries int
	// OnEvict, if set, is called with the key of every entry that leaves
	// the cache, whether evicted for room, deleted, expired or purged.
	OnEvict func(key string)
}

func New(cfg Config) (*LRU, error) {
	if cfg.MaxEntries <= 0 {
		return nil, errors.New("lru: MaxEntries must be > 0")
	}
	var onEvict func(string, item)
	if cfg.OnEvict != nil {
		onEvict = func(k string, _ item) { cfg.OnEvict(k) }
	}
	c, err := hlru.NewWithEvict[string, item](cfg.MaxEntries, onEvict)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c, now: time.Now}, nil
}

func (p *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !it.exp.IsZero() && !p.now().Before(it.exp) {
		p.c.Remove(key)
		return nil, false, nil
	}
	return it.b, true, nil
}

func (p *LRU) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = p.now().Add(ttl)
	}
	p.c.Add(key, item{b: value, exp: exp})
	return true, nil
}

func (p *LRU) Del(_ context.Context, key string) error {
	p.c.Remove(key)
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (p *LRU) Len() int { return p.c.Len() }

func (p *LRU) Close(_ context.Context) error {
	p.c.Purge()
	return nil
}
