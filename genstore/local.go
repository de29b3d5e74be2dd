package genstore

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// LocalOptions configure a Local store.
type LocalOptions struct {
	Clock clock.Clock // nil => wall clock

	// Retention is how long an untouched generation is kept. A pruned key
	// reads as 0 again, so Retention must outlive any tier record written
	// for it. 0 => never prune.
	Retention time.Duration
	// Sweep is the prune interval; 0 => Retention/4.
	Sweep time.Duration
}

type gen struct {
	n       uint64
	touched time.Time
}

// Local keeps generations in process memory.
type Local struct {
	clock     clock.Clock
	retention time.Duration

	mu   sync.RWMutex
	gens map[string]gen

	ticker *clock.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ GenStore = (*Local)(nil)

// NewLocal creates a Local store and starts its sweeper when Retention is
// set.
func NewLocal(opts LocalOptions) *Local {
	s := &Local{
		clock:     opts.Clock,
		retention: opts.Retention,
		gens:      make(map[string]gen),
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.retention <= 0 {
		return s
	}
	every := opts.Sweep
	if every <= 0 {
		every = s.retention / 4
	}
	s.ticker = s.clock.Ticker(every)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.sweep()
	return s
}

func (s *Local) sweep() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Prune()
		case <-s.stop:
			return
		}
	}
}

func (s *Local) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	g := s.gens[k]
	s.mu.RUnlock()
	return g.n, nil
}

func (s *Local) Bump(_ context.Context, k string) (uint64, error) {
	now := s.clock.Now()
	s.mu.Lock()
	g := s.gens[k]
	g.n++
	g.touched = now
	s.gens[k] = g
	s.mu.Unlock()
	return g.n, nil
}

// Prune drops generations not bumped within the retention window. It
// returns how many were dropped.
func (s *Local) Prune() int {
	if s.retention <= 0 {
		return 0
	}
	cutoff := s.clock.Now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, g := range s.gens {
		if g.touched.Before(cutoff) {
			delete(s.gens, k)
			n++
		}
	}
	return n
}

// Len reports how many keys carry a generation.
func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

func (s *Local) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			close(s.stop)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}
