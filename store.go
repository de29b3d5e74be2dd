package querycache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/querycache/key"
)

type entry struct {
	key       key.Key
	data      any
	hasData   bool
	err       error
	status    Status
	fetchedAt time.Time

	fetching bool

	// gc is the pending eviction timer; gcSeq invalidates timers that were
	// stopped too late to cancel their callback. An eviction due while a
	// fetch is in flight is held in gcDeferred and re-armed with gcTTL once
	// the fetch settles.
	gc         *clock.Timer
	gcSeq      uint64
	gcTTL      time.Duration
	gcDeferred bool
}

// Store is the shared query cache: one entry per key variation, at most one
// producer in flight per entry, and family-wide invalidation.
//
// Listeners are held per variation, independent of the entry, so an entry
// evicted and recreated keeps its subscribers.
type Store struct {
	clock clock.Clock
	log   Logger
	hooks Hooks
	focus *FocusManager
	tier  *tier // nil when the warm tier is off
	sf    singleflight.Group

	mu       sync.Mutex
	entries  map[string]*entry
	families map[string]map[string]struct{}
	subs     map[string]map[uint64]Listener
	nextSub  uint64
	closed   bool

	closeOnce sync.Once
}

func newStore(opts Options) (*Store, error) {
	if opts.Provider == nil && (opts.Codec != nil || opts.GenStore != nil) {
		return nil, &ConfigError{Field: "provider", Reason: "required when Codec or GenStore is set"}
	}
	if opts.TierTTL < 0 {
		return nil, &ConfigError{Field: "tier ttl", Reason: "must not be negative"}
	}

	s := &Store{
		clock:    coalesce[clock.Clock](opts.Clock, clock.New()),
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
		focus:    opts.Focus,
		entries:  make(map[string]*entry),
		families: make(map[string]map[string]struct{}),
		subs:     make(map[string]map[uint64]Listener),
	}
	if s.focus == nil {
		s.focus = NewFocusManager()
	}
	if opts.Provider != nil {
		s.tier = newTier(opts, s.clock, s.log, s.hooks)
	}
	return s, nil
}

// Focus returns the focus manager observers of this store listen to.
func (s *Store) Focus() *FocusManager { return s.focus }

// Clock returns the store's time source.
func (s *Store) Clock() clock.Clock { return s.clock }

// acquire returns the entry at k, creating it (warmed from the tier when
// possible) if absent. It returns with s.mu held.
func (s *Store) acquire(ctx context.Context, k key.Key) *entry {
	s.mu.Lock()
	if e, ok := s.entries[k.Variation]; ok {
		return e
	}
	if s.tier == nil {
		return s.createLocked(k, seed{}, false)
	}

	s.mu.Unlock()
	sd, ok := s.tier.load(ctx, k.Variation)
	s.mu.Lock()
	if e, found := s.entries[k.Variation]; found {
		return e
	}
	return s.createLocked(k, sd, ok)
}

func (s *Store) createLocked(k key.Key, sd seed, seeded bool) *entry {
	e := &entry{key: k, status: StatusIdle}
	if seeded {
		e.data, e.hasData = sd.data, true
		e.status = StatusSuccess
		e.fetchedAt = sd.fetchedAt
	}
	s.entries[k.Variation] = e
	fam := s.families[k.Family]
	if fam == nil {
		fam = make(map[string]struct{})
		s.families[k.Family] = fam
	}
	fam[k.Variation] = struct{}{}
	return e
}

func (s *Store) deleteLocked(e *entry) {
	delete(s.entries, e.key.Variation)
	if fam := s.families[e.key.Family]; fam != nil {
		delete(fam, e.key.Variation)
		if len(fam) == 0 {
			delete(s.families, e.key.Family)
		}
	}
}

func (s *Store) stateLocked(e *entry) EntryState {
	return EntryState{
		Key:         e.key,
		Data:        e.data,
		HasData:     e.hasData,
		Err:         e.err,
		Status:      e.status,
		FetchedAt:   e.fetchedAt,
		Fetching:    e.fetching,
		Subscribers: len(s.subs[e.key.Variation]),
	}
}

func (s *Store) listenersLocked(variation string) []Listener {
	m := s.subs[variation]
	if len(m) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}

// Get returns the entry at k, creating an idle one if absent.
func (s *Store) Get(ctx context.Context, k key.Key) EntryState {
	e := s.acquire(ctx, k)
	st := s.stateLocked(e)
	s.mu.Unlock()
	return st
}

// Peek returns the entry at k without creating it.
func (s *Store) Peek(k key.Key) (EntryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k.Variation]
	if !ok {
		return EntryState{Key: k, Subscribers: len(s.subs[k.Variation])}, false
	}
	return s.stateLocked(e), true
}

func (s *Store) Has(k key.Key) bool {
	s.mu.Lock()
	_, ok := s.entries[k.Variation]
	s.mu.Unlock()
	return ok
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Fetch runs fn for k unless a fetch for k is already in flight, in which
// case the caller joins it. The producer outlives ctx cancellation; ctx only
// scopes what a caller waits for.
func (s *Store) Fetch(ctx context.Context, k key.Key, fn Fetcher) *Future {
	if k.IsZero() {
		return failedFuture(&ConfigError{Field: "key", Reason: "empty"})
	}
	if fn == nil {
		return failedFuture(&ConfigError{Field: "fetcher", Reason: "nil"})
	}

	e := s.acquire(ctx, k)
	if s.closed {
		s.mu.Unlock()
		return failedFuture(ErrClosed)
	}
	joined := e.fetching
	if !joined {
		e.fetching = true
		if e.status == StatusIdle {
			e.status = StatusLoading
		}
	}
	// DoChan runs the flight in its own goroutine, so holding s.mu here
	// only orders the join against run clearing e.fetching.
	ch := s.sf.DoChan(k.Variation, func() (any, error) {
		return s.run(context.WithoutCancel(ctx), e, fn)
	})
	s.mu.Unlock()

	if joined {
		s.hooks.FetchDeduped(k.Variation)
	}
	return awaitFuture(ch)
}

func (s *Store) run(ctx context.Context, e *entry, fn Fetcher) (any, error) {
	var obs uint64
	canStore := false
	if s.tier != nil {
		obs, canStore = s.tier.snapshot(ctx, e.key.Variation)
	}

	v, err := s.call(ctx, e.key.Variation, fn)
	now := s.clock.Now()

	s.mu.Lock()
	if err == nil {
		e.data, e.hasData, e.err = v, true, nil
		e.status = StatusSuccess
		e.fetchedAt = now
	} else {
		e.err = err
		if !e.hasData {
			e.status = StatusError
		}
	}
	e.fetching = false
	attached := s.entries[e.key.Variation] == e
	var (
		st EntryState
		ls []Listener
	)
	if attached {
		// a detached entry was already forgotten by Remove, and its
		// variation may now belong to a newer flight
		s.sf.Forget(e.key.Variation)
		if e.gcDeferred && !s.closed && len(s.subs[e.key.Variation]) == 0 {
			s.armGCLocked(e, e.gcTTL)
		}
		st = s.stateLocked(e)
		ls = s.listenersLocked(e.key.Variation)
	}
	e.gcDeferred = false
	s.mu.Unlock()

	if err != nil {
		s.log.Debug("fetch failed", Fields{"key": e.key.Variation, "err": err})
	} else if attached && canStore {
		s.tier.store(ctx, e.key.Variation, v, obs, now)
	}
	s.notify(e.key.Variation, ls, st)
	return v, err
}

func (s *Store) call(ctx context.Context, k string, fn Fetcher) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("fetcher panicked", Fields{"key": k, "panic": r})
			v, err = nil, &FetchError{Key: k, Panic: r}
		}
	}()
	v, err = fn(ctx)
	if err != nil {
		return nil, &FetchError{Key: k, Err: err}
	}
	return v, nil
}

func (s *Store) notify(k string, ls []Listener, st EntryState) {
	for _, fn := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.hooks.ListenerPanic(k, r)
					s.log.Error("listener panicked", Fields{"key": k, "panic": r})
				}
			}()
			fn(st)
		}()
	}
}

// SetData writes v as a successful, fresh result at k.
func (s *Store) SetData(ctx context.Context, k key.Key, v any) {
	var (
		obs      uint64
		canStore bool
	)
	if s.tier != nil {
		obs, canStore = s.tier.snapshot(ctx, k.Variation)
	}

	e := s.acquire(ctx, k)
	now := s.clock.Now()
	e.data, e.hasData, e.err = v, true, nil
	e.status = StatusSuccess
	e.fetchedAt = now
	st := s.stateLocked(e)
	ls := s.listenersLocked(k.Variation)
	s.mu.Unlock()

	if canStore {
		s.tier.store(ctx, k.Variation, v, obs, now)
	}
	s.notify(k.Variation, ls, st)
}

// Invalidate marks the entry at k stale. Data is kept; no fetch is started.
func (s *Store) Invalidate(k key.Key) {
	s.invalidate(func() []string { return []string{k.Variation} })
}

// InvalidateByKey marks every variation of a family stale.
func (s *Store) InvalidateByKey(family string) {
	s.invalidate(func() []string { return s.familyLocked(family) })
}

func (s *Store) InvalidateAll() {
	s.invalidate(func() []string {
		out := make([]string, 0, len(s.entries))
		for v := range s.entries {
			out = append(out, v)
		}
		slices.Sort(out)
		return out
	})
}

type pending struct {
	key string
	ls  []Listener
	st  EntryState
}

func (s *Store) invalidate(targets func() []string) {
	s.mu.Lock()
	var out []pending
	for _, v := range targets() {
		e, ok := s.entries[v]
		if !ok {
			continue
		}
		e.fetchedAt = time.Time{}
		out = append(out, pending{key: v, ls: s.listenersLocked(v), st: s.stateLocked(e)})
	}
	s.mu.Unlock()

	for _, p := range out {
		s.notify(p.key, p.ls, p.st)
	}
}

func (s *Store) familyLocked(family string) []string {
	fam := s.families[family]
	out := make([]string, 0, len(fam))
	for v := range fam {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Remove drops the entry at k and its tier record. Subscribers stay
// registered; the next read starts from an idle entry.
func (s *Store) Remove(ctx context.Context, k key.Key) error {
	s.mu.Lock()
	if e, ok := s.entries[k.Variation]; ok {
		s.stopGCLocked(e)
		s.deleteLocked(e)
	}
	s.sf.Forget(k.Variation)
	s.mu.Unlock()

	if s.tier != nil {
		return s.tier.forget(ctx, k.Variation)
	}
	return nil
}

// RemoveByKey drops every variation of a family.
func (s *Store) RemoveByKey(ctx context.Context, family string) error {
	s.mu.Lock()
	vs := s.familyLocked(family)
	for _, v := range vs {
		e := s.entries[v]
		s.stopGCLocked(e)
		s.deleteLocked(e)
		s.sf.Forget(v)
	}
	s.mu.Unlock()

	if s.tier == nil {
		return nil
	}
	var errs []error
	for _, v := range vs {
		if err := s.tier.forget(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers fn for changes at k and cancels any pending eviction of
// k. The returned func unregisters fn and is safe to call more than once; it
// does not schedule eviction (see ScheduleGC).
func (s *Store) Subscribe(k key.Key, fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	m := s.subs[k.Variation]
	if m == nil {
		m = make(map[uint64]Listener)
		s.subs[k.Variation] = m
	}
	m[id] = fn
	if e, ok := s.entries[k.Variation]; ok {
		s.stopGCLocked(e)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if m := s.subs[k.Variation]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(s.subs, k.Variation)
				}
			}
			s.mu.Unlock()
		})
	}
}

// ScheduleGC arms eviction of k after ttl. It is a no-op while k has
// subscribers, and ttl == Infinite only cancels a pending timer. While a
// fetch for k is in flight the timer is armed when the fetch settles.
func (s *Store) ScheduleGC(k key.Key, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k.Variation]
	if !ok || s.closed || len(s.subs[k.Variation]) > 0 {
		return
	}
	s.stopGCLocked(e)
	if ttl < 0 {
		return
	}
	if e.fetching {
		e.gcTTL, e.gcDeferred = ttl, true
		return
	}
	s.armGCLocked(e, ttl)
}

func (s *Store) armGCLocked(e *entry, ttl time.Duration) {
	seq := e.gcSeq
	e.gcTTL, e.gcDeferred = ttl, false
	e.gc = s.clock.AfterFunc(ttl, func() { s.evict(e, seq) })
}

func (s *Store) stopGCLocked(e *entry) {
	if e.gc != nil {
		e.gc.Stop()
		e.gc = nil
	}
	e.gcDeferred = false
	e.gcSeq++
}

func (s *Store) evict(e *entry, seq uint64) {
	s.mu.Lock()
	if s.entries[e.key.Variation] != e || e.gcSeq != seq || len(s.subs[e.key.Variation]) > 0 {
		s.mu.Unlock()
		return
	}
	e.gc = nil
	if e.fetching {
		e.gcDeferred = true
		s.mu.Unlock()
		return
	}
	s.deleteLocked(e)
	s.mu.Unlock()

	s.hooks.Evicted(e.key.Variation)
	s.log.Debug("evicted idle entry", Fields{"key": e.key.Variation})
}

// Close stops eviction timers and closes the tier. Fetches started after
// Close fail with ErrClosed; entries stay readable.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for _, e := range s.entries {
			s.stopGCLocked(e)
		}
		s.mu.Unlock()

		if s.tier != nil {
			err = s.tier.close(ctx)
		}
	})
	return err
}
