// Package asynchook moves querycache.Hooks calls onto worker goroutines.
// Events are dropped when the queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    DedupEvery: 100, // sample: ~every 100th deduped fetch
//	})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	store, _ := querycache.New(querycache.Options{Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/querycache"
)

type Hooks struct {
	inner   querycache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(inner querycache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains the queue and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on a closed queue
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchDeduped(k string) { h.try(func() { h.inner.FetchDeduped(k) }) }
func (h *Hooks) Evicted(k string)      { h.try(func() { h.inner.Evicted(k) }) }
func (h *Hooks) ListenerPanic(k string, r any) {
	h.try(func() { h.inner.ListenerPanic(k, r) })
}
func (h *Hooks) TierSelfHeal(k, r string)         { h.try(func() { h.inner.TierSelfHeal(k, r) }) }
func (h *Hooks) TierSetRejected(k string)         { h.try(func() { h.inner.TierSetRejected(k) }) }
func (h *Hooks) GenBumpError(k string, err error) { h.try(func() { h.inner.GenBumpError(k, err) }) }
func (h *Hooks) GenSnapshotError(k string, err error) {
	h.try(func() { h.inner.GenSnapshotError(k, err) })
}
func (h *Hooks) ForgetOutage(k string, be, de error) {
	h.try(func() { h.inner.ForgetOutage(k, be, de) })
}
