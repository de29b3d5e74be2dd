package querycache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache/key"
)

func TestFetchDedup(t *testing.T) {
	s, _, hooks := newTestStore(t, nil)
	ctx := context.Background()
	p := returning("v1").blocked()

	f1 := s.Fetch(ctx, qk("todos"), p.fetch)
	f2 := s.Fetch(ctx, qk("todos"), p.fetch)

	st := s.Get(ctx, qk("todos"))
	require.True(t, st.Fetching)
	require.Equal(t, StatusLoading, st.Status)

	p.release()
	v1, err1 := wait(t, f1)
	v2, err2 := wait(t, f2)
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Equal(t, "v1", v1)
	require.Equal(t, "v1", v2)
	require.EqualValues(t, 1, p.calls.Load())
	require.Equal(t, 1, hooks.snapshot().deduped)

	st = s.Get(ctx, qk("todos"))
	require.False(t, st.Fetching)
	require.Equal(t, StatusSuccess, st.Status)
}

func TestFetchAfterSettleStartsNewProducer(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()
	p := returning("v")

	_, err := wait(t, s.Fetch(ctx, qk("todos"), p.fetch))
	require.NoError(t, err)
	_, err = wait(t, s.Fetch(ctx, qk("todos"), p.fetch))
	require.NoError(t, err)
	require.EqualValues(t, 2, p.calls.Load())
}

func TestWaitAbandonDoesNotCancelProducer(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	p := returning("late").blocked()

	ctx, cancel := context.WithCancel(context.Background())
	f := s.Fetch(ctx, qk("todos"), p.fetch)
	cancel()
	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	p.release()
	v, err := wait(t, f)
	require.NoError(t, err)
	require.Equal(t, "late", v)
	require.Equal(t, "late", s.Get(context.Background(), qk("todos")).Data)
}

func TestStaleness(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	ctx := context.Background()

	st := s.Get(ctx, qk("todos"))
	require.True(t, st.Stale(clk.Now(), time.Hour), "never fetched")

	_, err := wait(t, s.Fetch(ctx, qk("todos"), returning(1).fetch))
	require.NoError(t, err)

	clk.Add(999 * time.Millisecond)
	st = s.Get(ctx, qk("todos"))
	require.False(t, st.Stale(clk.Now(), time.Second))

	clk.Add(2 * time.Millisecond)
	require.True(t, st.Stale(clk.Now(), time.Second))

	require.False(t, st.Stale(clk.Now().Add(1000*time.Hour), Infinite))
	require.True(t, st.Stale(clk.Now(), 0))
}

func TestEvictionAfterGrace(t *testing.T) {
	s, clk, hooks := newTestStore(t, nil)
	ctx := context.Background()

	unsub := s.Subscribe(qk("todos"), func(EntryState) {})
	_, err := wait(t, s.Fetch(ctx, qk("todos"), returning(1).fetch))
	require.NoError(t, err)

	unsub()
	unsub() // idempotent
	s.ScheduleGC(qk("todos"), 50*time.Millisecond)

	clk.Add(49 * time.Millisecond)
	require.True(t, s.Has(qk("todos")))

	clk.Add(time.Millisecond)
	require.Eventually(t, func() bool { return !s.Has(qk("todos")) }, time.Second, time.Millisecond)
	require.Equal(t, []string{qk("todos").Variation}, hooks.snapshot().evicted)
}

func TestResubscribeCancelsEviction(t *testing.T) {
	s, clk, hooks := newTestStore(t, nil)
	ctx := context.Background()

	_, err := wait(t, s.Fetch(ctx, qk("todos"), returning(1).fetch))
	require.NoError(t, err)
	s.ScheduleGC(qk("todos"), 50*time.Millisecond)

	clk.Add(25 * time.Millisecond)
	unsub := s.Subscribe(qk("todos"), func(EntryState) {})
	defer unsub()

	clk.Add(35 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.True(t, s.Has(qk("todos")))
	require.Empty(t, hooks.snapshot().evicted)
}

func TestGCWaitsForInflightFetch(t *testing.T) {
	s, clk, hooks := newTestStore(t, nil)
	ctx := context.Background()
	p := returning("v").blocked()

	f1 := s.Fetch(ctx, qk("todos"), p.fetch)
	s.ScheduleGC(qk("todos"), 10*time.Millisecond)
	clk.Add(20 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.True(t, s.Has(qk("todos")))

	// a late caller still joins the running producer
	f2 := s.Fetch(ctx, qk("todos"), p.fetch)
	p.release()
	_, err := wait(t, f1)
	require.NoError(t, err)
	v, err := wait(t, f2)
	require.NoError(t, err)
	require.Equal(t, "v", v)
	require.EqualValues(t, 1, p.calls.Load())
	require.Empty(t, hooks.snapshot().evicted)

	// the deferred eviction is armed once the fetch settles
	clk.Add(10 * time.Millisecond)
	require.Eventually(t, func() bool { return !s.Has(qk("todos")) }, time.Second, time.Millisecond)
}

func TestGCTimerFiringMidFetchIsDeferred(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	ctx := context.Background()
	s.SetData(ctx, qk("todos"), "old")
	s.ScheduleGC(qk("todos"), 10*time.Millisecond)

	p := returning("new").blocked()
	f := s.Fetch(ctx, qk("todos"), p.fetch)
	clk.Add(10 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.True(t, s.Has(qk("todos")))

	p.release()
	_, err := wait(t, f)
	require.NoError(t, err)
	require.Equal(t, "new", s.Get(ctx, qk("todos")).Data)

	clk.Add(10 * time.Millisecond)
	require.Eventually(t, func() bool { return !s.Has(qk("todos")) }, time.Second, time.Millisecond)
}

func TestSubscribeDropsDeferredGC(t *testing.T) {
	s, clk, hooks := newTestStore(t, nil)
	ctx := context.Background()
	p := returning("v").blocked()

	f := s.Fetch(ctx, qk("todos"), p.fetch)
	s.ScheduleGC(qk("todos"), 10*time.Millisecond)
	unsub := s.Subscribe(qk("todos"), func(EntryState) {})
	defer unsub()

	p.release()
	_, err := wait(t, f)
	require.NoError(t, err)
	clk.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	require.True(t, s.Has(qk("todos")))
	require.Empty(t, hooks.snapshot().evicted)
}

func TestScheduleGCWithSubscribersIsNoop(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	ctx := context.Background()

	unsub := s.Subscribe(qk("todos"), func(EntryState) {})
	defer unsub()
	s.Get(ctx, qk("todos"))
	s.ScheduleGC(qk("todos"), time.Millisecond)

	clk.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	require.True(t, s.Has(qk("todos")))
}

func TestInfiniteGCNeverEvicts(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	s.Get(context.Background(), qk("todos"))
	s.ScheduleGC(qk("todos"), Infinite)

	clk.Add(24 * time.Hour)
	time.Sleep(10 * time.Millisecond)
	require.True(t, s.Has(qk("todos")))
}

func TestInvalidateByKeyMarksWholeFamily(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	ctx := context.Background()
	a := qkp("todos", map[string]any{"done": true})
	b := qkp("todos", map[string]any{"done": false})
	u := qk("users")

	for _, kk := range []key.Key{a, b, u} {
		_, err := wait(t, s.Fetch(ctx, kk, returning(kk.Variation).fetch))
		require.NoError(t, err)
	}

	s.InvalidateByKey("todos")

	for _, kk := range []key.Key{a, b} {
		st := s.Get(ctx, kk)
		require.True(t, st.FetchedAt.IsZero())
		require.True(t, st.Stale(clk.Now(), Infinite))
		require.Equal(t, kk.Variation, st.Data, "data is kept")
		require.Equal(t, StatusSuccess, st.Status)
	}
	require.False(t, s.Get(ctx, u).Stale(clk.Now(), Infinite))

	s.InvalidateAll()
	require.True(t, s.Get(ctx, u).FetchedAt.IsZero())
}

func TestInvalidateNotifiesSubscribers(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()
	_, err := wait(t, s.Fetch(ctx, qk("todos"), returning(1).fetch))
	require.NoError(t, err)

	var got []EntryState
	unsub := s.Subscribe(qk("todos"), func(st EntryState) { got = append(got, st) })
	defer unsub()

	s.Invalidate(qk("todos"))
	require.Len(t, got, 1)
	require.True(t, got[0].FetchedAt.IsZero())
	require.Equal(t, 1, got[0].Subscribers)
}

func TestListenerPanicIsIsolated(t *testing.T) {
	s, _, hooks := newTestStore(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	seen := 0
	u1 := s.Subscribe(qk("todos"), func(EntryState) { panic("boom") })
	u2 := s.Subscribe(qk("todos"), func(EntryState) {
		mu.Lock()
		seen++
		mu.Unlock()
	})
	defer u1()
	defer u2()

	_, err := wait(t, s.Fetch(ctx, qk("todos"), returning(1).fetch))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, hooks.snapshot().panics)
}

func TestFailedRefreshRetainsData(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()
	boom := errors.New("boom")
	p := &producer{val: func(n int32) (any, error) {
		if n == 1 {
			return "good", nil
		}
		return nil, boom
	}}

	_, err := wait(t, s.Fetch(ctx, qk("todos"), p.fetch))
	require.NoError(t, err)

	_, err = wait(t, s.Fetch(ctx, qk("todos"), p.fetch))
	require.ErrorIs(t, err, boom)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)

	st := s.Get(ctx, qk("todos"))
	require.Equal(t, "good", st.Data)
	require.Equal(t, StatusSuccess, st.Status)
	require.ErrorIs(t, st.Err, boom)

	// a later success clears the error
	p.val = func(int32) (any, error) { return "better", nil }
	_, err = wait(t, s.Fetch(ctx, qk("todos"), p.fetch))
	require.NoError(t, err)
	st = s.Get(ctx, qk("todos"))
	require.Equal(t, "better", st.Data)
	require.NoError(t, st.Err)
}

func TestFirstFailureSetsErrorStatus(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := wait(t, s.Fetch(ctx, qk("todos"), func(context.Context) (any, error) { return nil, boom }))
	require.ErrorIs(t, err, boom)

	st := s.Get(ctx, qk("todos"))
	require.Equal(t, StatusError, st.Status)
	require.False(t, st.HasData)
	require.Equal(t, KindProducer, errorInfo(st.Err).Kind)
	require.Equal(t, "boom", errorInfo(st.Err).Message)
}

func TestProducerPanicBecomesFetchError(t *testing.T) {
	s, _, _ := newTestStore(t, nil)

	_, err := wait(t, s.Fetch(context.Background(), qk("todos"), func(context.Context) (any, error) {
		panic("kaboom")
	}))
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "kaboom", fe.Panic)
	require.False(t, s.Get(context.Background(), qk("todos")).Fetching)
}

func TestFetchConfigErrors(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	var ce *ConfigError

	_, err := wait(t, s.Fetch(context.Background(), key.Key{}, returning(1).fetch))
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "key", ce.Field)

	_, err = wait(t, s.Fetch(context.Background(), qk("todos"), nil))
	require.ErrorAs(t, err, &ce)
	require.False(t, s.Has(key.Key{}))
}

func TestNewRejectsTierOptionsWithoutProvider(t *testing.T) {
	_, err := New(Options{GenStore: &failingGenStore{}})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "provider", ce.Field)
}

func TestSetDataNotifies(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	ctx := context.Background()

	var got EntryState
	unsub := s.Subscribe(qk("todos"), func(st EntryState) { got = st })
	defer unsub()

	s.SetData(ctx, qk("todos"), []string{"a"})
	require.Equal(t, []string{"a"}, got.Data)
	require.Equal(t, StatusSuccess, got.Status)
	require.True(t, got.FetchedAt.Equal(clk.Now()))
}

func TestRemoveKeepsSubscribers(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()

	calls := make(chan EntryState, 4)
	unsub := s.Subscribe(qk("todos"), func(st EntryState) { calls <- st })
	defer unsub()

	s.SetData(ctx, qk("todos"), 1)
	<-calls
	require.NoError(t, s.Remove(ctx, qk("todos")))
	require.False(t, s.Has(qk("todos")))

	_, err := wait(t, s.Fetch(ctx, qk("todos"), returning(2).fetch))
	require.NoError(t, err)
	select {
	case st := <-calls:
		require.Equal(t, 2, st.Data)
	case <-time.After(time.Second):
		t.Fatal("subscriber not notified after re-creation")
	}
}

func TestRemoveByKeyDropsFamily(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()
	a := qkp("todos", map[string]any{"page": 1})
	b := qkp("todos", map[string]any{"page": 2})
	s.SetData(ctx, a, 1)
	s.SetData(ctx, b, 2)
	s.SetData(ctx, qk("users"), 3)

	require.NoError(t, s.RemoveByKey(ctx, "todos"))
	require.False(t, s.Has(a))
	require.False(t, s.Has(b))
	require.True(t, s.Has(qk("users")))
	require.Equal(t, 1, s.Len())
}

func TestPrefetch(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	ctx := context.Background()
	fresh := returning("cached")
	s.SetData(ctx, qk("users"), "cached")

	todos := returning("todos")
	err := s.Prefetch(ctx,
		PrefetchRequest{Key: qk("todos"), Fetch: todos.fetch, GCTime: time.Minute},
		PrefetchRequest{Key: qk("users"), Fetch: fresh.fetch, StaleTime: time.Hour, GCTime: time.Minute},
	)
	require.NoError(t, err)
	require.EqualValues(t, 1, todos.calls.Load())
	require.EqualValues(t, 0, fresh.calls.Load(), "fresh entries are not refetched")
	require.Equal(t, "todos", s.Get(ctx, qk("todos")).Data)

	clk.Add(time.Minute)
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)
}

func TestPrefetchReturnsFirstError(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	boom := errors.New("boom")

	err := s.Prefetch(context.Background(),
		PrefetchRequest{Key: qk("a"), Fetch: func(context.Context) (any, error) { return nil, boom }},
	)
	require.ErrorIs(t, err, boom)
}

func TestFetchAfterClose(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	_, err := wait(t, s.Fetch(context.Background(), qk("todos"), returning(1).fetch))
	require.ErrorIs(t, err, ErrClosed)
}
