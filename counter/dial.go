package counter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// DialURL picks a backend by URL scheme: redis:// and rediss:// for Redis,
// postgres:// and postgresql:// for Postgres.
func DialURL(ctx context.Context, rawURL string) (Backend, error) {
	switch s := scheme(rawURL); s {
	case "redis", "rediss":
		r, err := DialRedis(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "postgres", "postgresql":
		p, err := DialPostgres(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported counter URL scheme %q", s)
	}
}

func scheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
