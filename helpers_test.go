package querycache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/unkn0wn-root/querycache/key"
	pr "github.com/unkn0wn-root/querycache/provider"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type memEntry struct {
	v   []byte
	exp time.Time
}

type memProvider struct {
	mu  sync.Mutex
	clk clock.Clock
	m   map[string]memEntry
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider(clk clock.Clock) *memProvider {
	return &memProvider{clk: clk, m: make(map[string]memEntry)}
}

func (p *memProvider) now() time.Time {
	if p.clk == nil {
		return time.Now()
	}
	return p.clk.Now()
}

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && p.now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = p.now().Add(ttl)
	}
	p.m[key] = memEntry{v: value, exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

// recHooks records hook events.
type recHooks struct {
	NopHooks
	mu        sync.Mutex
	deduped   int
	panics    int
	evicted   []string
	selfHeals []string
}

func (h *recHooks) FetchDeduped(string) {
	h.mu.Lock()
	h.deduped++
	h.mu.Unlock()
}

func (h *recHooks) ListenerPanic(string, any) {
	h.mu.Lock()
	h.panics++
	h.mu.Unlock()
}

func (h *recHooks) Evicted(k string) {
	h.mu.Lock()
	h.evicted = append(h.evicted, k)
	h.mu.Unlock()
}

func (h *recHooks) TierSelfHeal(_ string, reason string) {
	h.mu.Lock()
	h.selfHeals = append(h.selfHeals, reason)
	h.mu.Unlock()
}

func (h *recHooks) snapshot() recHooks {
	h.mu.Lock()
	defer h.mu.Unlock()
	return recHooks{
		deduped:   h.deduped,
		panics:    h.panics,
		evicted:   append([]string(nil), h.evicted...),
		selfHeals: append([]string(nil), h.selfHeals...),
	}
}

func newTestStore(t *testing.T, mutate func(*Options)) (*Store, *clock.Mock, *recHooks) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(epoch)
	hooks := &recHooks{}
	opts := Options{Clock: clk, Hooks: hooks}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, clk, hooks
}

// producer counts calls and optionally blocks until released.
type producer struct {
	calls atomic.Int32
	gate  chan struct{}
	val   func(n int32) (any, error)
}

func returning(v any) *producer {
	return &producer{val: func(int32) (any, error) { return v, nil }}
}

func (p *producer) blocked() *producer {
	p.gate = make(chan struct{})
	return p
}

func (p *producer) release() { close(p.gate) }

func (p *producer) fetch(ctx context.Context) (any, error) {
	n := p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	return p.val(n)
}

func qk(base string) key.Key { return key.New(key.Text(base), key.Part{}) }

func qkp(base string, params map[string]any) key.Key {
	return key.New(key.Text(base), key.MustOf(params))
}

func wait(t *testing.T, f *Future) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Wait(ctx)
}
