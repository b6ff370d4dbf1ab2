// Package counter keeps per-subject view counts. Without a configured backend
// it serves placeholder values flagged as non-authoritative, so callers never
// need to know whether persistence exists.
package counter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/tagcache"
)

// dialTimeout bounds one shared dial; callers may stop waiting sooner.
const dialTimeout = 10 * time.Second

var ErrClosed = errors.New("counter: store closed")

// Count is a view count. Authoritative is false for placeholder values and
// for reads that could not reach the backend.
type Count struct {
	N             int64
	Authoritative bool
}

// Backend persists counters. Implementations must be safe for concurrent use.
type Backend interface {
	Incr(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (int64, error) // 0 when absent
	Close() error
}

// DialFunc opens a Backend for a connection URL.
type DialFunc func(ctx context.Context, rawURL string) (Backend, error)

type Options struct {
	URL         string      // "" => placeholder mode
	Placeholder Placeholder // nil => LocalRandom
	Dial        DialFunc    // nil => DialURL
	Logger      tagcache.Logger
}

type Store struct {
	url         string
	dial        DialFunc
	placeholder Placeholder
	log         tagcache.Logger

	sf      singleflight.Group // dedupes the first dial
	mu      sync.Mutex
	backend Backend
	closed  bool
}

func New(opts Options) *Store {
	s := &Store{
		url:         opts.URL,
		dial:        opts.Dial,
		placeholder: opts.Placeholder,
		log:         opts.Logger,
	}
	if s.dial == nil {
		s.dial = DialURL
	}
	if s.placeholder == nil {
		s.placeholder = LocalRandom{}
	}
	if s.log == nil {
		s.log = tagcache.NopLogger{}
	}
	return s
}

// Key is the backend key holding subject's count.
func Key(subject string) string { return "views:" + subject }

// Configured reports whether a persistent backend was configured.
func (s *Store) Configured() bool { return s.url != "" }

// Connect opens the backend now rather than on first use. It is a no-op in
// placeholder mode and once connected.
func (s *Store) Connect(ctx context.Context) error {
	if !s.Configured() {
		return nil
	}
	_, err := s.conn(ctx)
	return err
}

// conn returns the shared backend, dialing it on first use. Concurrent first
// callers share one dial and each waits only as long as its own ctx allows.
// A failed dial is retried by the next caller.
func (s *Store) conn(ctx context.Context) (Backend, error) {
	s.mu.Lock()
	b, closed := s.backend, s.closed
	s.mu.Unlock()
	if b != nil {
		return b, nil
	}
	if closed {
		return nil, ErrClosed
	}
	dctx := context.WithoutCancel(ctx)
	ch := s.sf.DoChan("dial", func() (any, error) {
		return s.dialShared(dctx)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(Backend), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) dialShared(ctx context.Context) (Backend, error) {
	s.mu.Lock()
	if s.backend != nil {
		b := s.backend
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	b, err := s.dial(ctx, s.url)
	if err != nil {
		return nil, &ConnectError{Scheme: scheme(s.url), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = b.Close()
		return nil, ErrClosed
	}
	s.backend = b
	return b, nil
}

// Increment adds one view for subject. Placeholder mode counts nothing;
// backend errors are logged.
func (s *Store) Increment(ctx context.Context, subject string) {
	if !s.Configured() {
		return
	}
	b, err := s.conn(ctx)
	if err != nil {
		s.log.Error("counter backend unavailable", tagcache.Fields{"subject": subject, "err": err})
		return
	}
	if err := b.Incr(ctx, Key(subject)); err != nil {
		s.log.Error("counter increment failed", tagcache.Fields{"subject": subject, "err": err})
	}
}

// Read returns subject's count. A backend failure yields a non-authoritative
// zero, never an invented number.
func (s *Store) Read(ctx context.Context, subject string) Count {
	if !s.Configured() {
		return Count{N: s.placeholder.Views(ctx, subject)}
	}
	b, err := s.conn(ctx)
	if err != nil {
		s.log.Error("counter backend unavailable", tagcache.Fields{"subject": subject, "err": err})
		return Count{}
	}
	n, err := b.Get(ctx, Key(subject))
	if err != nil {
		s.log.Error("counter read failed", tagcache.Fields{"subject": subject, "err": err})
		return Count{}
	}
	return Count{N: n, Authoritative: true}
}

// Close releases the backend. Later calls behave as if the backend were
// unreachable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

// ConnectError reports a failure to reach the configured backend. The URL is
// withheld since it may carry credentials.
type ConnectError struct {
	Scheme string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("counter: connect %s backend: %v", e.Scheme, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
