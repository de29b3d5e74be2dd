package querycache

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/querycache/internal/shape"
	"github.com/unkn0wn-root/querycache/key"
)

// PageFetcher reads one page. param is the page parameter: the initial one,
// a value read from a neighbouring page, or an arithmetic neighbour.
type PageFetcher func(ctx context.Context, param any) (any, error)

// PagerOptions configure a paginated query.
type PagerOptions struct {
	Key    key.Part // required
	Params key.Part
	Fetch  PageFetcher // required

	// InitialPageParam is the first page requested; nil => 1. Without a path
	// for a direction it must be an integer.
	InitialPageParam any
	// NextPagePath / PreviousPagePath are dotted paths ("meta.next") into the
	// last / first page. An absent or null value ends that direction only
	// while that page is the edge: the value is read again from whichever
	// page is at the edge after every load, truncation or refetch, so a
	// refetched edge page that now carries a value reopens the direction.
	// Empty => arithmetic (+1 / -1, never below InitialPageParam).
	NextPagePath     string
	PreviousPagePath string

	MaxPages     int    // resident window; 0 => unbounded
	PageParamKey string // name of the page param in page keys; "" => "page"
	ListFields   []string

	StaleTime time.Duration
	GCTime    time.Duration // 0 => 5m

	Disabled bool // Mount and option changes do not load the initial page
	OnChange func(PagerState)
}

// PagerPatch changes options of a live pager. Nil fields are kept.
type PagerPatch struct {
	Params    *key.Part
	Fetch     PageFetcher
	MaxPages  *int
	StaleTime *time.Duration
	GCTime    *time.Duration
	Disabled  *bool
}

// PagerState is the read model of a page chain. Pages and PageParams are
// positionally aligned.
type PagerState struct {
	Pages           []any
	PageParams      []any
	Flattened       []any
	HasNextPage     bool
	HasPreviousPage bool
	CurrentPage     any // param of the most recently loaded page
	TotalPages      int
	IsFetching      bool
	Err             error
	Error           *ErrorInfo
}

type page struct {
	param any
	key   key.Key
	data  any
	unsub func()
}

// Pager keeps an ordered, optionally bounded chain of pages of one query
// variation. Every page is its own store entry keyed by its parameter, so a
// page ages, dedups and evicts independently of its position in the chain.
//
// Navigation calls block until the page settles and are serialized per pager.
type Pager struct {
	id    uuid.UUID
	store *Store

	op sync.Mutex // serializes navigation

	mu       sync.Mutex
	opts     PagerOptions
	base     key.Key
	cfgErr   error
	chain    []*page
	current  any
	fetching bool
	err      error
	mounted  bool
}

// NewPager creates an unmounted pager. Invalid options are reported by every
// operation and in the state; they never start a fetch.
func NewPager(store *Store, opts PagerOptions) *Pager {
	p := &Pager{id: uuid.New(), store: store}
	p.setOptionsLocked(opts)
	return p
}

func (p *Pager) setOptionsLocked(opts PagerOptions) {
	if opts.InitialPageParam == nil {
		opts.InitialPageParam = 1
	}
	opts.PageParamKey = coalesce(opts.PageParamKey, defaultPageParamKey)
	p.opts = opts
	p.cfgErr = validatePager(opts)
	if p.cfgErr == nil {
		p.base = key.New(opts.Key, opts.Params)
	}
}

func validatePager(opts PagerOptions) error {
	switch {
	case !opts.Key.IsValid():
		return &ConfigError{Field: "key", Reason: "required"}
	case opts.Fetch == nil:
		return &ConfigError{Field: "fetcher", Reason: "required"}
	case opts.MaxPages < 0:
		return &ConfigError{Field: "max pages", Reason: "must not be negative"}
	}
	if _, err := key.Of(opts.InitialPageParam); err != nil {
		return &ConfigError{Field: "initial page param", Reason: err.Error()}
	}
	if opts.NextPagePath == "" || opts.PreviousPagePath == "" {
		if _, ok := toInt(opts.InitialPageParam); !ok {
			return &ConfigError{Field: "initial page param", Reason: "must be an integer without page paths"}
		}
	}
	return nil
}

func (p *Pager) fields() Fields {
	return Fields{"pager": p.id.String(), "key": p.base.Variation}
}

// Mount loads the initial page unless the pager is disabled. Mounting twice
// is a no-op.
func (p *Pager) Mount(ctx context.Context) error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if p.mounted {
		p.mu.Unlock()
		return nil
	}
	if err := p.cfgErr; err != nil {
		p.mu.Unlock()
		p.store.log.Warn("pager not mounted: invalid options", Fields{"pager": p.id.String(), "err": err})
		p.publish()
		return err
	}
	p.mounted = true
	load := !p.opts.Disabled && len(p.chain) == 0
	for _, pg := range p.chain {
		pg.unsub = p.watch(pg.key)
	}
	p.store.log.Debug("pager mounted", p.fields())
	p.mu.Unlock()

	if !load {
		p.publish()
		return nil
	}
	return p.loadInitial(ctx, false)
}

// Unmount releases every resident page; each is evicted after GCTime unless
// observed elsewhere.
func (p *Pager) Unmount() {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if !p.mounted {
		p.mu.Unlock()
		return
	}
	p.mounted = false
	dropped := p.clearLocked()
	gc := p.gcTimeLocked()
	p.store.log.Debug("pager unmounted", p.fields())
	p.mu.Unlock()

	p.release(dropped, gc)
}

func (p *Pager) gcTimeLocked() time.Duration {
	return coalesce(p.opts.GCTime, defaultGCTime)
}

func (p *Pager) clearLocked() []*page {
	dropped := p.chain
	p.chain = nil
	p.current = nil
	p.err = nil
	return dropped
}

func (p *Pager) release(pages []*page, gc time.Duration) {
	for _, pg := range pages {
		pg.unsub()
		p.store.ScheduleGC(pg.key, gc)
	}
}

// adoptLocked holds pg's subscription while mounted. An unmounted pager keeps
// the page in its chain but hands the entry back to eviction; Mount
// subscribes it again.
func (p *Pager) adoptLocked(pg *page, unsub func()) (released *page) {
	if p.mounted {
		pg.unsub = unsub
		return nil
	}
	pg.unsub = func() {}
	return &page{key: pg.key, unsub: unsub}
}

func (p *Pager) pageKeyLocked(param any) (key.Key, error) {
	part, err := key.Of(param)
	if err != nil {
		return key.Key{}, &ConfigError{Field: "page param", Reason: err.Error()}
	}
	return p.base.Page(p.opts.PageParamKey, part), nil
}

// load returns the page at k, from the store when fresh, otherwise by
// fetching (or joining a fetch of) it.
func (p *Pager) load(ctx context.Context, k key.Key, param any, fn PageFetcher, staleTime time.Duration, force bool) (any, error) {
	if !force {
		st := p.store.Get(ctx, k)
		if st.HasData && st.Err == nil && !st.Stale(p.store.clock.Now(), staleTime) {
			return st.Data, nil
		}
	}
	f := p.store.Fetch(ctx, k, func(ctx context.Context) (any, error) { return fn(ctx, param) })
	return f.Wait(ctx)
}

func (p *Pager) watch(k key.Key) func() {
	return p.store.Subscribe(k, func(st EntryState) {
		if !st.HasData {
			return
		}
		p.mu.Lock()
		changed := false
		for _, pg := range p.chain {
			if pg.key == k {
				pg.data = st.Data
				changed = true
			}
		}
		p.mu.Unlock()
		if changed {
			p.publish()
		}
	})
}

type direction int

const (
	forward direction = iota
	backward
)

func (p *Pager) loadInitial(ctx context.Context, force bool) error {
	p.mu.Lock()
	param := p.opts.InitialPageParam
	k, err := p.pageKeyLocked(param)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	fn, staleTime, gc := p.opts.Fetch, p.opts.StaleTime, p.gcTimeLocked()
	p.fetching = true
	p.mu.Unlock()
	p.publish()

	// subscribed before loading so the entry cannot be evicted between the
	// fetch settling and the page joining the chain
	unsub := p.watch(k)
	data, err := p.load(ctx, k, param, fn, staleTime, force)
	if err != nil {
		p.release([]*page{{key: k, unsub: unsub}}, gc)
		p.fail(err)
		return err
	}

	p.mu.Lock()
	dropped := p.clearLocked()
	pg := &page{param: param, key: k, data: data}
	if r := p.adoptLocked(pg, unsub); r != nil {
		dropped = append(dropped, r)
	}
	p.chain = []*page{pg}
	p.current = param
	p.fetching = false
	gc = p.gcTimeLocked()
	p.mu.Unlock()

	p.release(dropped, gc)
	p.publish()
	return nil
}

func (p *Pager) fail(err error) {
	p.mu.Lock()
	p.fetching = false
	p.err = err
	p.mu.Unlock()
	p.store.log.Debug("page fetch failed", Fields{"pager": p.id.String(), "err": err})
	p.publish()
}

// FetchNextPage appends the next page. It is a no-op when there is no next
// page; on an empty chain it loads the initial page.
func (p *Pager) FetchNextPage(ctx context.Context) error {
	return p.step(ctx, forward)
}

// FetchPreviousPage prepends the previous page. It is a no-op when there is
// no previous page.
func (p *Pager) FetchPreviousPage(ctx context.Context) error {
	return p.step(ctx, backward)
}

func (p *Pager) step(ctx context.Context, dir direction) error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if err := p.cfgErr; err != nil {
		p.mu.Unlock()
		return err
	}
	if len(p.chain) == 0 {
		p.mu.Unlock()
		if dir == backward {
			return nil
		}
		return p.loadInitial(ctx, false)
	}
	next, prev := p.neighboursLocked()
	param, ok := next, next != nil
	if dir == backward {
		param, ok = prev, prev != nil
	}
	if !ok {
		p.mu.Unlock()
		return nil
	}
	k, err := p.pageKeyLocked(param)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	fn, staleTime, gc := p.opts.Fetch, p.opts.StaleTime, p.gcTimeLocked()
	p.fetching = true
	p.mu.Unlock()
	p.publish()

	unsub := p.watch(k)
	data, err := p.load(ctx, k, param, fn, staleTime, false)
	if err != nil {
		p.release([]*page{{key: k, unsub: unsub}}, gc)
		p.fail(err)
		return err
	}
	pg := &page{param: param, key: k, data: data}

	p.mu.Lock()
	if dir == forward {
		p.chain = append(p.chain, pg)
	} else {
		p.chain = append([]*page{pg}, p.chain...)
	}
	dropped := p.truncateLocked(dir)
	if r := p.adoptLocked(pg, unsub); r != nil {
		dropped = append(dropped, r)
	}
	p.current = param
	p.fetching = false
	p.err = nil
	gc = p.gcTimeLocked()
	p.mu.Unlock()

	p.release(dropped, gc)
	p.publish()
	return nil
}

// truncateLocked trims the chain to MaxPages from the end opposite dir.
func (p *Pager) truncateLocked(dir direction) []*page {
	limit := p.opts.MaxPages
	if limit <= 0 || len(p.chain) <= limit {
		return nil
	}
	n := len(p.chain) - limit
	var dropped []*page
	if dir == forward {
		dropped = append(dropped, p.chain[:n]...)
		p.chain = append([]*page(nil), p.chain[n:]...)
	} else {
		dropped = append(dropped, p.chain[limit:]...)
		p.chain = p.chain[:limit:limit]
	}
	return dropped
}

// neighboursLocked derives the next and previous params from the chain's
// edges; nil means no page in that direction.
func (p *Pager) neighboursLocked() (next, prev any) {
	if len(p.chain) == 0 {
		return nil, nil
	}
	first, last := p.chain[0], p.chain[len(p.chain)-1]

	if path := p.opts.NextPagePath; path != "" {
		if v, ok := shape.Lookup(last.data, path); ok {
			next = v
		}
	} else if n, ok := toInt(last.param); ok {
		next = n + 1
	}

	if path := p.opts.PreviousPagePath; path != "" {
		if v, ok := shape.Lookup(first.data, path); ok {
			prev = v
		}
	} else {
		n, ok := toInt(first.param)
		floor, fok := toInt(p.opts.InitialPageParam)
		if ok && fok && n-1 >= floor {
			prev = n - 1
		}
	}
	return next, prev
}

// RefetchAll re-fetches every resident page in order. It stops at the first
// failure; pages refreshed before it stay applied.
func (p *Pager) RefetchAll(ctx context.Context) error {
	p.op.Lock()
	defer p.op.Unlock()
	return p.refetchAll(ctx)
}

func (p *Pager) refetchAll(ctx context.Context) error {
	p.mu.Lock()
	if err := p.cfgErr; err != nil {
		p.mu.Unlock()
		return err
	}
	pages := make([]page, len(p.chain))
	for i, pg := range p.chain {
		pages[i] = *pg
	}
	fn, staleTime := p.opts.Fetch, p.opts.StaleTime
	mounted, gc := p.mounted, p.gcTimeLocked()
	p.fetching = len(pages) > 0
	p.mu.Unlock()

	for _, pg := range pages {
		p.store.Invalidate(pg.key)
	}
	p.publish()

	for _, pg := range pages {
		data, err := p.load(ctx, pg.key, pg.param, fn, staleTime, true)
		if !mounted {
			p.store.ScheduleGC(pg.key, gc)
		}
		if err != nil {
			p.fail(err)
			return err
		}
		p.mu.Lock()
		for _, cur := range p.chain {
			if cur.key == pg.key {
				cur.data = data
			}
		}
		p.mu.Unlock()
		p.publish()
	}

	p.mu.Lock()
	p.fetching = false
	p.err = nil
	p.mu.Unlock()
	p.publish()
	return nil
}

// ResetPages drops the chain, invalidates every page that was resident and
// loads only the initial page.
func (p *Pager) ResetPages(ctx context.Context) error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if err := p.cfgErr; err != nil {
		p.mu.Unlock()
		return err
	}
	dropped := p.clearLocked()
	gc := p.gcTimeLocked()
	p.store.log.Debug("pager reset", Fields{"pager": p.id.String(), "pages": len(dropped)})
	p.mu.Unlock()

	for _, pg := range dropped {
		p.store.Invalidate(pg.key)
	}
	p.release(dropped, gc)
	return p.loadInitial(ctx, true)
}

// Invalidate marks the whole family stale (every variation, every page) and
// re-fetches the resident chain.
func (p *Pager) Invalidate(ctx context.Context) error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if err := p.cfgErr; err != nil {
		p.mu.Unlock()
		return err
	}
	family := p.base.Family
	p.mu.Unlock()

	p.store.InvalidateByKey(family)
	return p.refetchAll(ctx)
}

// UpdateOptions applies patch. A new variation (Params) drops the chain and,
// when mounted and enabled, loads its initial page; re-enabling a mounted
// pager with no pages loads the initial page too.
func (p *Pager) UpdateOptions(ctx context.Context, patch PagerPatch) error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	next := p.opts
	if patch.Params != nil {
		next.Params = *patch.Params
	}
	if patch.Fetch != nil {
		next.Fetch = patch.Fetch
	}
	if patch.MaxPages != nil {
		next.MaxPages = *patch.MaxPages
	}
	if patch.StaleTime != nil {
		next.StaleTime = *patch.StaleTime
	}
	if patch.GCTime != nil {
		next.GCTime = *patch.GCTime
	}
	if patch.Disabled != nil {
		next.Disabled = *patch.Disabled
	}
	if err := validatePager(next); err != nil {
		p.mu.Unlock()
		return err
	}

	oldBase, gc := p.base, p.gcTimeLocked()
	p.setOptionsLocked(next)
	var dropped []*page
	if p.base != oldBase {
		dropped = p.clearLocked()
	} else {
		dropped = p.truncateLocked(forward)
	}
	load := p.mounted && !p.opts.Disabled && len(p.chain) == 0
	p.mu.Unlock()

	p.release(dropped, gc)
	if load {
		return p.loadInitial(ctx, false)
	}
	p.publish()
	return nil
}

// State returns the current read model.
func (p *Pager) State() PagerState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfgErr != nil {
		return PagerState{Err: p.cfgErr, Error: errorInfo(p.cfgErr)}
	}
	st := PagerState{
		Pages:       make([]any, len(p.chain)),
		PageParams:  make([]any, len(p.chain)),
		CurrentPage: p.current,
		TotalPages:  len(p.chain),
		IsFetching:  p.fetching,
		Err:         p.err,
		Error:       errorInfo(p.err),
	}
	for i, pg := range p.chain {
		st.Pages[i] = pg.data
		st.PageParams[i] = pg.param
	}
	if len(p.chain) == 0 {
		st.HasNextPage = true
	} else {
		next, prev := p.neighboursLocked()
		st.HasNextPage, st.HasPreviousPage = next != nil, prev != nil
	}
	st.Flattened = shape.Flatten(st.Pages, p.opts.ListFields)
	return st
}

func (p *Pager) publish() {
	p.mu.Lock()
	fn := p.opts.OnChange
	p.mu.Unlock()
	if fn != nil {
		fn(p.State())
	}
}

// toInt reads an integral page param.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return floatInt(float64(n))
	case float64:
		return floatInt(n)
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func floatInt(f float64) (int, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
