// Package webhook turns signed "entry changed" notifications from the content
// source into tag invalidations.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/unkn0wn-root/tagcache"
)

const (
	// DefaultHeader carries the shared secret.
	DefaultHeader = "X-Vercel-Reval-Key"
	// DefaultMaxBody caps the request body.
	DefaultMaxBody = 1 << 20

	maxTagLen = 256
)

var (
	ErrUnauthorized   = errors.New("webhook: unauthorized")
	ErrInvalidRequest = errors.New("webhook: invalid request")
)

// Invalidator marks every cache entry tagged with tag stale under the named
// revalidation profile. tagcache.Cache implements it.
type Invalidator interface {
	InvalidateTag(ctx context.Context, tag, profile string) ([]string, error)
}

type Options struct {
	Secret      string // "" rejects every request
	Header      string // "" => DefaultHeader
	MaxBody     int64  // 0 => DefaultMaxBody
	Invalidator Invalidator
	Logger      tagcache.Logger
}

type Gateway struct {
	secret  []byte
	header  string
	maxBody int64
	inv     Invalidator
	log     tagcache.Logger
}

func New(opts Options) (*Gateway, error) {
	if opts.Invalidator == nil {
		return nil, fmt.Errorf("webhook: invalidator is required")
	}
	g := &Gateway{
		secret:  []byte(opts.Secret),
		header:  opts.Header,
		maxBody: opts.MaxBody,
		inv:     opts.Invalidator,
		log:     opts.Logger,
	}
	if g.header == "" {
		g.header = DefaultHeader
	}
	if g.maxBody <= 0 {
		g.maxBody = DefaultMaxBody
	}
	if g.log == nil {
		g.log = tagcache.NopLogger{}
	}
	return g, nil
}

// NotifyChanged authenticates secret and invalidates tag. It returns the
// cache keys that were marked stale. Repeating a call is harmless.
func (g *Gateway) NotifyChanged(ctx context.Context, secret, tag, profile string) ([]string, error) {
	if !g.authorized(secret) {
		return nil, ErrUnauthorized
	}
	return g.invalidate(ctx, tag, profile)
}

func (g *Gateway) authorized(secret string) bool {
	if len(g.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), g.secret) == 1
}

func (g *Gateway) invalidate(ctx context.Context, tag, profile string) ([]string, error) {
	if !validTag(tag) {
		return nil, fmt.Errorf("%w: entry id %q", ErrInvalidRequest, tag)
	}
	keys, err := g.inv.InvalidateTag(ctx, tag, profile)
	if errors.Is(err, tagcache.ErrUnknownProfile) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err != nil {
		return keys, fmt.Errorf("webhook: invalidate %q: %w", tag, err)
	}
	g.log.Info("entry revalidated", tagcache.Fields{"tag": tag, "profile": profile, "keys": len(keys)})
	return keys, nil
}

// validTag accepts non-empty ids of at most 256 bytes without whitespace or
// control characters.
func validTag(tag string) bool {
	if tag == "" || len(tag) > maxTagLen || !utf8.ValidString(tag) {
		return false
	}
	for _, r := range tag {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
