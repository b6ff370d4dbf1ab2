// Package query describes content-source queries and derives the cache key
// for each of them.
package query

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/unkn0wn-root/tagcache/internal/util"
)

// Query is a content-source query descriptor: one content type plus filter
// parameters in the content source's own vocabulary (e.g. "fields.slug",
// "limit", "order").
type Query struct {
	ContentType string
	Params      map[string]string
}

// New returns a query for contentType with an empty parameter set.
func New(contentType string) Query {
	return Query{ContentType: contentType, Params: map[string]string{}}
}

// With returns a copy of q with name set to value.
func (q Query) With(name, value string) Query {
	p := make(map[string]string, len(q.Params)+1)
	for k, v := range q.Params {
		p[k] = v
	}
	p[name] = value
	return Query{ContentType: q.ContentType, Params: p}
}

// Limit is shorthand for With("limit", n).
func (q Query) Limit(n int) Query { return q.With("limit", strconv.Itoa(n)) }

// Key is the cache key of q inside namespace ns. Two queries with the same
// content type and parameters map to the same key regardless of the order
// in which parameters were added.
func (q Query) Key(ns string) string {
	parts := make([]string, 0, len(q.Params))
	for k, v := range q.Params {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}
	return util.HashKey(ns+":"+q.ContentType, parts)
}

// Values renders the parameters as URL query values including content_type.
func (q Query) Values() url.Values {
	v := make(url.Values, len(q.Params)+1)
	v.Set("content_type", q.ContentType)
	for k, val := range q.Params {
		v.Set(k, val)
	}
	return v
}

func (q Query) String() string {
	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := q.ContentType
	for _, k := range keys {
		s += fmt.Sprintf(" %s=%s", k, q.Params[k])
	}
	return s
}
