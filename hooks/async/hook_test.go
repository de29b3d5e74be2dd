package asynchook

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/querycache"
)

type countHooks struct {
	querycache.NopHooks
	mu      sync.Mutex
	evicted []string
}

func (c *countHooks) Evicted(k string) {
	c.mu.Lock()
	c.evicted = append(c.evicted, k)
	c.mu.Unlock()
}

func TestCloseDrainsQueue(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	for i := 0; i < 10; i++ {
		h.Evicted("k")
	}
	h.Close()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if len(inner.evicted) != 10 {
		t.Fatalf("want 10 events, got %d", len(inner.evicted))
	}
}

func TestEventsAfterCloseAreDropped(t *testing.T) {
	h := New(&countHooks{}, 1, 1)
	h.Close()
	h.FetchDeduped("k")
	if h.Dropped() != 1 {
		t.Fatalf("want 1 dropped, got %d", h.Dropped())
	}
}
