// Package contentful is a minimal read-only client for the Contentful
// Delivery API, limited to what article pages need.
package contentful

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/unkn0wn-root/tagcache/query"
)

const (
	DefaultHost        = "cdn.contentful.com"
	DefaultEnvironment = "master"

	// ArticleType is the content type id of articles.
	ArticleType = "article"

	maxResponse = 16 << 20
)

var ErrNotFound = errors.New("contentful: not found")

// APIError is a non-2xx response from the Delivery API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("contentful: HTTP %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

type Config struct {
	SpaceID     string
	AccessToken string
	Environment string       // "" => master
	Host        string       // host or base URL; "" => cdn.contentful.com
	HTTPClient  *http.Client // nil => 10s timeout client
}

type Client struct {
	base  string
	token string
	hc    *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.SpaceID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("contentful: space id and access token are required")
	}
	env := cfg.Environment
	if env == "" {
		env = DefaultEnvironment
	}
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		base:  strings.TrimRight(host, "/") + "/spaces/" + cfg.SpaceID + "/environments/" + env,
		token: cfg.AccessToken,
		hc:    hc,
	}, nil
}

// Entries runs q against the entries endpoint and returns the raw response
// body.
func (c *Client) Entries(ctx context.Context, q query.Query) ([]byte, error) {
	u := c.base + "/entries?" + q.Values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contentful: %s: %w", q.ContentType, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("contentful: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("contentful: malformed response")
	}
	return body, nil
}

// Articles returns the articles matching q and the ids of every entity they
// were built from. Links that cannot be resolved from the response's
// includes are left empty.
func (c *Client) Articles(ctx context.Context, q query.Query) ([]Article, []string, error) {
	if q.ContentType == "" {
		q.ContentType = ArticleType
	}
	body, err := c.Entries(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	return ParseArticles(body), Tags(body), nil
}
