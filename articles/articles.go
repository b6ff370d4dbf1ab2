// Package articles serves article data through the tag-indexed cache and
// tracks per-article views.
package articles

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/tagcache"
	"github.com/unkn0wn-root/tagcache/contentful"
	"github.com/unkn0wn-root/tagcache/counter"
	"github.com/unkn0wn-root/tagcache/query"
)

// Namespace is the cache namespace of article queries.
const Namespace = "articles"

var ErrNotFound = errors.New("articles: not found")

// Source runs article queries against the content source and reports the
// entity ids each result depends on.
type Source interface {
	Articles(ctx context.Context, q query.Query) ([]contentful.Article, []string, error)
}

// Views counts article views.
type Views interface {
	Increment(ctx context.Context, subject string)
	Read(ctx context.Context, subject string) counter.Count
}

type Service struct {
	cache tagcache.Cache[[]contentful.Article]
	src   Source
	views Views
	log   tagcache.Logger
}

func New(cache tagcache.Cache[[]contentful.Article], src Source, views Views, log tagcache.Logger) *Service {
	if log == nil {
		log = tagcache.NopLogger{}
	}
	return &Service{cache: cache, src: src, views: views, log: log}
}

// List returns every article, newest first.
func (s *Service) List(ctx context.Context) ([]contentful.Article, error) {
	q := query.New(contentful.ArticleType).With("order", "-fields.date")
	return s.fetch(ctx, q, false)
}

// BySlug returns the article with slug or ErrNotFound.
func (s *Service) BySlug(ctx context.Context, slug string) (contentful.Article, error) {
	if slug == "" {
		return contentful.Article{}, ErrNotFound
	}
	q := query.New(contentful.ArticleType).With("fields.slug", slug).Limit(1)
	arts, err := s.fetch(ctx, q, true)
	if err != nil {
		return contentful.Article{}, err
	}
	return arts[0], nil
}

// Open returns the article and records a view of it.
func (s *Service) Open(ctx context.Context, slug string) (contentful.Article, error) {
	a, err := s.BySlug(ctx, slug)
	if err != nil {
		return a, err
	}
	s.views.Increment(ctx, slug)
	return a, nil
}

// Views returns the live view count of slug; it is never cached.
func (s *Service) Views(ctx context.Context, slug string) counter.Count {
	return s.views.Read(ctx, slug)
}

// fetch reads q through the cache. With single set, an empty result maps to
// ErrNotFound. It is cached only when the key was cached before under entity
// tags: the empty result keeps those tags, so republishing the entity
// invalidates it. A first-time miss carries no tag and is not cached, since
// no webhook could ever invalidate it.
func (s *Service) fetch(ctx context.Context, q query.Query, single bool) ([]contentful.Article, error) {
	key := q.Key(Namespace)
	load := func(ctx context.Context) ([]contentful.Article, []string, error) {
		arts, tags, err := s.src.Articles(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		if single && len(arts) == 0 {
			prev, err := s.cache.TagsFor(ctx, key)
			if err != nil || len(prev) == 0 {
				return nil, nil, ErrNotFound
			}
			s.log.Debug("article gone; caching not found", tagcache.Fields{"key": key, "tags": prev})
			return []contentful.Article{}, prev, nil
		}
		return arts, tags, nil
	}
	arts, err := s.cache.Fetch(ctx, key, load)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, contentful.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("articles: %s: %w", q, err)
	}
	if single && len(arts) == 0 {
		return nil, ErrNotFound
	}
	return arts, nil
}
