package querycache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	c "github.com/unkn0wn-root/querycache/codec"
	gen "github.com/unkn0wn-root/querycache/genstore"
	"github.com/unkn0wn-root/querycache/key"
	pr "github.com/unkn0wn-root/querycache/provider"
)

// Fetcher is the caller's remote read. The store treats it as an opaque unit
// of work: it returns a value or fails.
type Fetcher func(ctx context.Context) (any, error)

// Listener is called after an entry changed (fetch settled, invalidation,
// manual write). It runs outside the store lock; a panic is recovered and
// logged.
type Listener func(EntryState)

type SetCostFunc func(storageKey string, raw []byte) int64

// Status of a cache entry.
type Status uint8

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// EntryState is a copy of one cache entry taken under the store lock.
type EntryState struct {
	Key       key.Key
	Data      any
	HasData   bool // a fetch has succeeded at least once (Data may still be nil)
	Err       error
	Status    Status
	FetchedAt time.Time // zero => never fetched, or invalidated since
	Fetching  bool
	// Subscribers is the number of live subscriptions at the key.
	Subscribers int
}

// Stale reports whether the entry is older than staleTime at now.
// Entries never fetched (or invalidated) are always stale; with
// staleTime == Infinite nothing else is.
func (s EntryState) Stale(now time.Time, staleTime time.Duration) bool {
	if s.FetchedAt.IsZero() {
		return true
	}
	if staleTime < 0 {
		return false
	}
	return now.Sub(s.FetchedAt) >= staleTime
}

// Options configure a Store. The zero value is a ready, tier-less store.
type Options struct {
	Clock  clock.Clock   // nil => wall clock
	Logger Logger        // nil => NopLogger
	Hooks  Hooks         // nil => NopHooks
	Focus  *FocusManager // nil => a new, focused manager

	// Warm tier. Disabled unless Provider is set.
	Namespace      string        // tier keyspace; "" => "default"
	Provider       pr.Provider   // byte store receiving successful results
	Codec          c.Codec[any]  // nil => codec.JSON[any]
	GenStore       gen.GenStore  // nil => genstore.Local on Clock
	TierTTL        time.Duration // 0 => 10m
	ComputeSetCost SetCostFunc   // default 1
}

// New builds a Store. Create one per application/session and share it.
func New(opts Options) (*Store, error) {
	return newStore(opts)
}
