package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tagcache"
	"github.com/unkn0wn-root/tagcache/articles"
	"github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/config"
	"github.com/unkn0wn-root/tagcache/contentful"
	"github.com/unkn0wn-root/tagcache/counter"
	"github.com/unkn0wn-root/tagcache/genstore"
	"github.com/unkn0wn-root/tagcache/provider"
	bigcacheprov "github.com/unkn0wn-root/tagcache/provider/bigcache"
	"github.com/unkn0wn-root/tagcache/provider/lru"
	redisprov "github.com/unkn0wn-root/tagcache/provider/redis"
	ristrettoprov "github.com/unkn0wn-root/tagcache/provider/ristretto"
	"github.com/unkn0wn-root/tagcache/tagindex"
)

const (
	maxDecode       = 8 << 20
	sharedRetention = 7 * 24 * time.Hour // redis entry and generation TTL
)

type articleCache = tagcache.Cache[[]contentful.Article]

func dialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

func buildProvider(ctx context.Context, cfg config.Config, rdb redis.UniversalClient) (provider.Provider, error) {
	switch cfg.Provider {
	case "lru":
		p, err := lru.New(lru.Config{MaxEntries: cfg.MaxEntries})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "ristretto":
		p, err := ristrettoprov.New(ristrettoprov.Config{
			NumCounters: int64(cfg.MaxEntries) * 10,
			MaxCost:     int64(cfg.MaxEntries) * 64 << 10, // ~64 KiB per entry
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "bigcache":
		p, err := bigcacheprov.New(ctx, bigcacheprov.Config{
			LifeWindow:         sharedRetention,
			MaxEntriesInWindow: cfg.MaxEntries,
			HardMaxCacheSizeMB: 512,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis provider needs REDIS_URL")
		}
		p, err := redisprov.New(redisprov.Config{Client: rdb})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func buildCodec(name string) (codec.Codec[[]contentful.Article], error) {
	c, err := codec.ByName[[]contentful.Article](name)
	if err != nil {
		return nil, err
	}
	return codec.Limit[[]contentful.Article]{Inner: c, MaxDecode: maxDecode}, nil
}

func buildCache(ctx context.Context, cfg config.Config, rdb redis.UniversalClient, log tagcache.Logger, hooks tagcache.Hooks) (articleCache, error) {
	p, err := buildProvider(ctx, cfg, rdb)
	if err != nil {
		return nil, err
	}
	c, err := buildCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	opts := tagcache.Options[[]contentful.Article]{
		Namespace:      articles.Namespace,
		Provider:       p,
		Codec:          c,
		Logger:         log,
		Hooks:          hooks,
		FreshFor:       cfg.FreshFor,
		ComputeTimeout: cfg.ComputeTimeout,
		RefreshWorkers: cfg.RefreshWorkers,
	}
	if cfg.Provider == "redis" {
		opts.Retention = sharedRetention
	}
	if sharedIndex(cfg) {
		opts.Index = tagindex.NewRedis(rdb, articles.Namespace)
		opts.GenStore = genstore.NewRedis(rdb, articles.Namespace, sharedRetention)
	}
	return tagcache.New[[]contentful.Article](opts)
}

// sharedIndex reports whether the index and generations live in Redis.
// Entries shared through Redis need it: every replica must see the tags of
// every stored entry.
func sharedIndex(cfg config.Config) bool {
	return cfg.SharedIndex || cfg.Provider == "redis"
}

func buildCounter(cfg config.Config, log tagcache.Logger) *counter.Store {
	var ph counter.Placeholder = counter.LocalRandom{}
	if cfg.Placeholder == "api" {
		ph = counter.RandomAPI{}
	}
	return counter.New(counter.Options{
		URL:         cfg.CounterBackendURL(),
		Placeholder: ph,
		Logger:      log,
	})
}
