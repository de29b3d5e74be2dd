package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/querycache/key"
)

// ObserverOptions configure one consumer's view of a query.
type ObserverOptions struct {
	Key    key.Part // required; the query's family
	Params key.Part // optional; selects a variation within the family
	Fetch  Fetcher  // required

	StaleTime    time.Duration // age at which data is stale; Infinite => never by age
	GCTime       time.Duration // eviction delay once unobserved; 0 => 5m, Infinite => never
	PollInterval time.Duration // 0 => no polling

	Disabled            bool // no automatic fetches (mount, poll, focus, invalidation)
	DisableFocusRefetch bool

	// OnChange receives a snapshot after every observed change. It runs on
	// store goroutines and must not block.
	OnChange func(Snapshot)
}

// ObserverPatch changes options of a live observer. Nil fields are kept.
type ObserverPatch struct {
	Key                 *key.Part
	Params              *key.Part
	Fetch               Fetcher
	StaleTime           *time.Duration
	GCTime              *time.Duration
	PollInterval        *time.Duration
	Disabled            *bool
	DisableFocusRefetch *bool
}

// Snapshot is the render-facing projection of an entry.
type Snapshot struct {
	Data      any
	Err       error
	Error     *ErrorInfo
	Status    Status
	FetchedAt time.Time

	IsLoading  bool
	IsFetching bool
	IsStale    bool
	IsSuccess  bool
	IsError    bool
	IsIdle     bool
}

// Observer binds one consumer to a store entry: it fetches on mount when
// data is missing or stale, polls, refetches on focus, and keeps the entry
// alive while mounted.
type Observer struct {
	id    uuid.UUID
	store *Store

	mu      sync.Mutex
	opts    ObserverOptions
	key     key.Key
	cfgErr  error
	mounted bool
	ctx     context.Context

	unsubscribe func()
	unfocus     func()
	poll        *poller
}

type poller struct {
	every  time.Duration
	ticker *clock.Ticker
	stop   chan struct{}
}

func (p *poller) halt() {
	p.ticker.Stop()
	close(p.stop)
}

// NewObserver creates an unmounted observer. Invalid options are reported by
// Mount and in the snapshot; they never start a fetch.
func NewObserver(store *Store, opts ObserverOptions) *Observer {
	o := &Observer{id: uuid.New(), store: store, opts: opts, ctx: context.Background()}
	o.cfgErr = validateObserver(opts)
	if o.cfgErr == nil {
		o.key = key.New(opts.Key, opts.Params)
	}
	return o
}

func validateObserver(opts ObserverOptions) error {
	switch {
	case !opts.Key.IsValid():
		return &ConfigError{Field: "key", Reason: "required"}
	case opts.Fetch == nil:
		return &ConfigError{Field: "fetcher", Reason: "required"}
	case opts.PollInterval < 0:
		return &ConfigError{Field: "poll interval", Reason: "must not be negative"}
	}
	return nil
}

// Key returns the cache key currently observed.
func (o *Observer) Key() key.Key {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.key
}

func (o *Observer) fields() Fields {
	return Fields{"observer": o.id.String(), "key": o.key.Variation}
}

// Mount subscribes to the entry and fetches if it is idle or stale. Mounting
// twice is a no-op.
func (o *Observer) Mount(ctx context.Context) error {
	o.mu.Lock()
	if o.mounted {
		o.mu.Unlock()
		return nil
	}
	if err := o.cfgErr; err != nil {
		o.mu.Unlock()
		o.store.log.Warn("observer not mounted: invalid options", Fields{"observer": o.id.String(), "err": err})
		o.publish()
		return err
	}
	o.mounted = true
	o.ctx = context.WithoutCancel(ctx)
	o.subscribeLocked()
	o.syncTimersLocked()
	o.store.log.Debug("observer mounted", o.fields())
	o.mu.Unlock()

	o.evaluate()
	return nil
}

// Unmount releases the subscription and timers and schedules eviction of the
// entry after GCTime. Unmounting twice is a no-op.
func (o *Observer) Unmount() {
	o.mu.Lock()
	if !o.mounted {
		o.mu.Unlock()
		return
	}
	o.mounted = false
	k := o.key
	gc := o.gcTimeLocked()
	o.unsubscribeLocked()
	o.syncTimersLocked()
	o.store.log.Debug("observer unmounted", o.fields())
	o.mu.Unlock()

	o.store.ScheduleGC(k, gc)
}

func (o *Observer) gcTimeLocked() time.Duration {
	return coalesce(o.opts.GCTime, defaultGCTime)
}

func (o *Observer) subscribeLocked() {
	k := o.key
	o.unsubscribe = o.store.Subscribe(k, func(EntryState) { o.publish() })
}

func (o *Observer) unsubscribeLocked() {
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
}

// syncTimersLocked starts or stops polling and the focus subscription to
// match the current options. It is idempotent.
func (o *Observer) syncTimersLocked() {
	wantPoll := o.mounted && !o.opts.Disabled && o.opts.PollInterval > 0
	if o.poll != nil && (!wantPoll || o.poll.every != o.opts.PollInterval) {
		o.poll.halt()
		o.poll = nil
	}
	if wantPoll && o.poll == nil {
		p := &poller{
			every:  o.opts.PollInterval,
			ticker: o.store.clock.Ticker(o.opts.PollInterval),
			stop:   make(chan struct{}),
		}
		o.poll = p
		go o.pollLoop(p)
	}

	wantFocus := o.mounted && !o.opts.DisableFocusRefetch
	if o.unfocus != nil && !wantFocus {
		o.unfocus()
		o.unfocus = nil
	}
	if wantFocus && o.unfocus == nil {
		o.unfocus = o.store.focus.Subscribe(o.onFocus)
	}
}

func (o *Observer) pollLoop(p *poller) {
	for {
		select {
		case <-p.ticker.C:
			o.mu.Lock()
			live := o.poll == p && o.mounted && !o.opts.Disabled
			ctx, k, fn := o.ctx, o.key, o.opts.Fetch
			o.mu.Unlock()
			if live {
				o.store.Fetch(ctx, k, fn)
				o.publish()
			}
		case <-p.stop:
			return
		}
	}
}

func (o *Observer) onFocus() {
	o.mu.Lock()
	live := o.mounted && !o.opts.Disabled && !o.opts.DisableFocusRefetch
	ctx, k, fn, staleTime := o.ctx, o.key, o.opts.Fetch, o.opts.StaleTime
	o.mu.Unlock()
	if !live {
		return
	}
	st, _ := o.store.Peek(k)
	if st.Stale(o.store.clock.Now(), staleTime) {
		o.store.Fetch(ctx, k, fn)
		o.publish()
	}
}

// evaluate fetches if the entry is idle or stale, then publishes.
func (o *Observer) evaluate() {
	o.mu.Lock()
	if !o.mounted {
		o.mu.Unlock()
		return
	}
	enabled := !o.opts.Disabled
	ctx, k, fn, staleTime := o.ctx, o.key, o.opts.Fetch, o.opts.StaleTime
	o.mu.Unlock()

	if enabled {
		st := o.store.Get(ctx, k)
		if st.Status == StatusIdle || st.Stale(o.store.clock.Now(), staleTime) {
			o.store.Fetch(ctx, k, fn)
		}
	}
	o.publish()
}

// Refetch fetches the current key unconditionally, joining a fetch already in
// flight. It works whether or not the observer is mounted or enabled; an
// unmounted observer leaves the entry scheduled for eviction after GCTime.
func (o *Observer) Refetch(ctx context.Context) *Future {
	o.mu.Lock()
	if err := o.cfgErr; err != nil {
		o.mu.Unlock()
		return failedFuture(err)
	}
	k, fn := o.key, o.opts.Fetch
	mounted, gc := o.mounted, o.gcTimeLocked()
	o.mu.Unlock()

	f := o.store.Fetch(ctx, k, fn)
	if !mounted {
		o.store.ScheduleGC(k, gc)
	}
	o.publish()
	return f
}

// Invalidate marks every variation of the observed family stale and, when
// mounted and enabled, refetches the current key.
func (o *Observer) Invalidate(ctx context.Context) {
	o.mu.Lock()
	if o.cfgErr != nil {
		o.mu.Unlock()
		return
	}
	family := o.key.Family
	o.mu.Unlock()

	o.store.InvalidateByKey(family)
	o.refetchIfActive(ctx)
}

// InvalidateCurrent marks only the observed variation stale.
func (o *Observer) InvalidateCurrent(ctx context.Context) {
	o.mu.Lock()
	if o.cfgErr != nil {
		o.mu.Unlock()
		return
	}
	k := o.key
	o.mu.Unlock()

	o.store.Invalidate(k)
	o.refetchIfActive(ctx)
}

func (o *Observer) refetchIfActive(ctx context.Context) {
	o.mu.Lock()
	live := o.mounted && !o.opts.Disabled
	k, fn := o.key, o.opts.Fetch
	o.mu.Unlock()
	if live {
		o.store.Fetch(ctx, k, fn)
		o.publish()
	}
}

// UpdateOptions applies p. A changed key moves the subscription to the new
// variation, schedules eviction of the old one and evaluates the new one;
// turning the observer back on evaluates as well. An invalid patch is
// rejected and leaves the observer unchanged.
func (o *Observer) UpdateOptions(p ObserverPatch) error {
	o.mu.Lock()
	next := o.opts
	if p.Key != nil {
		next.Key = *p.Key
	}
	if p.Params != nil {
		next.Params = *p.Params
	}
	if p.Fetch != nil {
		next.Fetch = p.Fetch
	}
	if p.StaleTime != nil {
		next.StaleTime = *p.StaleTime
	}
	if p.GCTime != nil {
		next.GCTime = *p.GCTime
	}
	if p.PollInterval != nil {
		next.PollInterval = *p.PollInterval
	}
	if p.Disabled != nil {
		next.Disabled = *p.Disabled
	}
	if p.DisableFocusRefetch != nil {
		next.DisableFocusRefetch = *p.DisableFocusRefetch
	}
	if err := validateObserver(next); err != nil {
		o.mu.Unlock()
		return err
	}

	oldKey, oldGC := o.key, o.gcTimeLocked()
	wasEnabled := !o.opts.Disabled
	o.opts = next
	o.key = key.New(next.Key, next.Params)
	o.cfgErr = nil

	keyChanged := o.key != oldKey
	mounted := o.mounted
	if mounted && keyChanged {
		o.unsubscribeLocked()
		o.subscribeLocked()
		o.store.log.Debug("observer key changed", Fields{"observer": o.id.String(), "from": oldKey.Variation, "to": o.key.Variation})
	}
	o.syncTimersLocked()
	enabledNow := !wasEnabled && !next.Disabled
	o.mu.Unlock()

	if !mounted {
		return nil
	}
	if keyChanged && !oldKey.IsZero() {
		o.store.ScheduleGC(oldKey, oldGC)
	}
	if keyChanged || enabledNow {
		o.evaluate()
	} else {
		o.publish()
	}
	return nil
}

// GetState projects the current entry. It never creates entries, fetches or
// touches timers.
func (o *Observer) GetState() Snapshot {
	o.mu.Lock()
	k, cfgErr, staleTime := o.key, o.cfgErr, o.opts.StaleTime
	o.mu.Unlock()

	if cfgErr != nil {
		return Snapshot{
			Err:     cfgErr,
			Error:   errorInfo(cfgErr),
			Status:  StatusError,
			IsError: true,
		}
	}
	st, _ := o.store.Peek(k)
	return project(st, o.store.clock.Now(), staleTime)
}

func project(st EntryState, now time.Time, staleTime time.Duration) Snapshot {
	return Snapshot{
		Data:       st.Data,
		Err:        st.Err,
		Error:      errorInfo(st.Err),
		Status:     st.Status,
		FetchedAt:  st.FetchedAt,
		IsLoading:  st.Status == StatusLoading,
		IsFetching: st.Fetching,
		IsStale:    st.Stale(now, staleTime),
		IsSuccess:  st.Status == StatusSuccess,
		IsError:    st.Status == StatusError || st.Err != nil,
		IsIdle:     st.Status == StatusIdle,
	}
}

// publish hands the current snapshot to OnChange.
func (o *Observer) publish() {
	o.mu.Lock()
	fn := o.opts.OnChange
	o.mu.Unlock()
	if fn != nil {
		fn(o.GetState())
	}
}
