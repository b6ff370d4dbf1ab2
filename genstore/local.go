package genstore

import (
	"context"
	"sync"
	"time"
)

// Local keeps generations in-process. With a cleanup interval and retention
// it prunes generations not bumped for longer than retention; a pruned key
// reads as generation 0 again. Generation numbers come from one store-wide
// sequence, so a number is never handed out twice even after pruning.
type Local struct {
	mu     sync.RWMutex
	gens   map[string]Gen
	seq    uint64 // last issued generation; guarded by mu
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	now    func() time.Time
}

var _ GenStore = (*Local)(nil)

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{
		gens: make(map[string]Gen),
		now:  time.Now,
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Snapshot(_ context.Context, k string) (Gen, error) {
	s.mu.RLock()
	g := s.gens[k]
	s.mu.RUnlock()
	return g, nil
}

func (s *Local) Bump(_ context.Context, k, profile string) (Gen, error) {
	now := s.now()
	s.mu.Lock()
	s.seq++
	g := Gen{N: s.seq, Profile: profile, BumpedAt: now}
	s.gens[k] = g
	s.mu.Unlock()
	return g, nil
}

// BumpMany takes the write lock once for all keys.
func (s *Local) BumpMany(_ context.Context, ks []string, profile string) error {
	now := s.now()
	s.mu.Lock()
	for _, k := range ks {
		s.seq++
		s.gens[k] = Gen{N: s.seq, Profile: profile, BumpedAt: now}
	}
	s.mu.Unlock()
	return nil
}

func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	for k, g := range s.gens {
		if !g.BumpedAt.IsZero() && g.BumpedAt.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
