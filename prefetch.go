package querycache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/querycache/key"
)

// PrefetchRequest names one query to warm.
type PrefetchRequest struct {
	Key       key.Key
	Fetch     Fetcher
	StaleTime time.Duration // fresh entries are left alone
	GCTime    time.Duration // 0 => 5m; the entry is unobserved until someone subscribes
}

// Prefetch fills the store for reqs concurrently and waits for them. Each
// entry is scheduled for eviction afterwards since nothing observes it yet.
// The first failure is returned; the other fetches still complete.
func (s *Store) Prefetch(ctx context.Context, reqs ...PrefetchRequest) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range reqs {
		g.Go(func() error {
			if r.Key.IsZero() || r.Fetch == nil {
				return &ConfigError{Field: "prefetch", Reason: "key and fetcher are required"}
			}
			defer s.ScheduleGC(r.Key, coalesce(r.GCTime, defaultGCTime))

			st := s.Get(gctx, r.Key)
			if st.HasData && !st.Stale(s.clock.Now(), r.StaleTime) {
				return nil
			}
			_, err := s.Fetch(gctx, r.Key, r.Fetch).Wait(gctx)
			return err
		})
	}
	return g.Wait()
}
