// Package querycache is an in-process cache for remote reads. It memoizes the
// result of a named, parameterized read, shares it between any number of
// observers, runs at most one fetch per key at a time, tracks freshness and
// evicts entries nobody observes after a grace period.
//
// Components:
//   - Store: the single source of truth; entries keyed by key.Key.
//   - Observer: one consumer's view; fetches on mount, polls, refetches on focus.
//   - Pager: a bounded chain of pages, each page its own entry.
//   - Warm tier (optional): successful results written through to a byte
//     Provider (Ristretto, BigCache) and used to seed new entries.
//
// Keys:
//
//	family    - the query name, e.g. "todos"
//	variation - the query with its params, e.g. ["todos",{"done":true}]
//	page      - the variation tagged with a page param, e.g. ["todos",{"done":true}]@{"page":2}
//	tier:<ns>:<variation> - tier records
//
// Lifecycle:
//
//	obs := querycache.NewObserver(store, querycache.ObserverOptions{
//	    Key:       key.Text("todos"),
//	    Fetch:     loadTodos,
//	    StaleTime: 30 * time.Second,
//	    OnChange:  render,
//	})
//	_ = obs.Mount(ctx)  // subscribe; fetch if idle or stale
//	defer obs.Unmount() // entry evicted after GCTime unless re-observed
package querycache
