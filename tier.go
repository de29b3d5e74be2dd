package querycache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	c "github.com/unkn0wn-root/querycache/codec"
	gen "github.com/unkn0wn-root/querycache/genstore"
	"github.com/unkn0wn-root/querycache/internal/wire"
	pr "github.com/unkn0wn-root/querycache/provider"
)

// tier is the optional warm copy of successful results. Records are guarded
// by per-key generations: a record is only trusted while its generation is
// current, and a write only lands if the generation did not move while the
// producer ran.
type tier struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[any]
	gens     gen.GenStore
	ttl      time.Duration
	cost     SetCostFunc
	log      Logger
	hooks    Hooks
}

// seed is a decoded tier record used to warm a new entry.
type seed struct {
	data      any
	fetchedAt time.Time
}

func newTier(opts Options, clk clock.Clock, log Logger, hooks Hooks) *tier {
	t := &tier{
		ns:       coalesce(opts.Namespace, "default"),
		provider: opts.Provider,
		codec:    opts.Codec,
		gens:     opts.GenStore,
		ttl:      coalesce(opts.TierTTL, defaultTierTTL),
		cost:     opts.ComputeSetCost,
		log:      log,
		hooks:    hooks,
	}
	if t.codec == nil {
		t.codec = c.JSON[any]{}
	}
	if t.gens == nil {
		t.gens = gen.NewLocal(gen.LocalOptions{
			Clock:     clk,
			Retention: max(defaultGenRetention, 2*t.ttl),
			Sweep:     defaultGenSweep,
		})
	}
	if t.cost == nil {
		t.cost = func(string, []byte) int64 { return 1 }
	}
	return t
}

func (t *tier) storageKey(variation string) string {
	return "tier:" + t.ns + ":" + variation
}

// snapshot returns the current generation. ok is false when the GenStore
// failed; callers must then skip the write.
func (t *tier) snapshot(ctx context.Context, variation string) (uint64, bool) {
	sk := t.storageKey(variation)
	g, err := t.gens.Snapshot(ctx, sk)
	if err != nil {
		t.hooks.GenSnapshotError(sk, err)
		t.log.Warn("gen snapshot failed", Fields{"key": sk, "err": err})
		return 0, false
	}
	return g, true
}

func (t *tier) load(ctx context.Context, variation string) (seed, bool) {
	sk := t.storageKey(variation)
	raw, ok, err := t.provider.Get(ctx, sk)
	if err != nil {
		t.log.Warn("tier get failed", Fields{"key": sk, "err": err})
		return seed{}, false
	}
	if !ok {
		return seed{}, false
	}

	rec, err := wire.DecodeEntry(raw)
	if err != nil {
		t.heal(ctx, sk, "corrupt")
		return seed{}, false
	}
	cur, ok := t.snapshot(ctx, variation)
	if !ok {
		return seed{}, false
	}
	if rec.Gen != cur {
		t.heal(ctx, sk, "gen_mismatch")
		return seed{}, false
	}
	v, err := t.codec.Decode(rec.Payload)
	if err != nil {
		t.heal(ctx, sk, "value_decode")
		return seed{}, false
	}
	return seed{data: v, fetchedAt: rec.FetchedAt}, true
}

func (t *tier) heal(ctx context.Context, sk, reason string) {
	_ = t.provider.Del(ctx, sk)
	t.hooks.TierSelfHeal(sk, reason)
	t.log.Debug("tier record dropped", Fields{"key": sk, "reason": reason})
}

// store writes v iff the key's generation still equals observed.
func (t *tier) store(ctx context.Context, variation string, v any, observed uint64, fetchedAt time.Time) {
	sk := t.storageKey(variation)
	cur, ok := t.snapshot(ctx, variation)
	if !ok {
		return
	}
	if cur != observed {
		t.log.Debug("tier write skipped (gen mismatch)", Fields{"key": sk, "obs": observed, "cur": cur})
		return
	}
	payload, err := t.codec.Encode(v)
	if err != nil {
		t.log.Warn("tier encode failed", Fields{"key": sk, "err": err})
		return
	}
	wireb := wire.EncodeEntry(observed, fetchedAt, payload)
	ok, err = t.provider.Set(ctx, sk, wireb, t.cost(sk, wireb), t.ttl)
	if err != nil {
		t.log.Warn("tier set failed", Fields{"key": sk, "err": err})
		return
	}
	if !ok {
		t.hooks.TierSetRejected(sk)
		t.log.Debug("tier set rejected by provider (pressure)", Fields{"key": sk})
	}
}

// forget retires the key's generation and deletes its record. Either step
// alone is enough to hide the old value.
func (t *tier) forget(ctx context.Context, variation string) error {
	sk := t.storageKey(variation)
	g, bumpErr := t.gens.Bump(ctx, sk)
	if bumpErr != nil {
		t.hooks.GenBumpError(sk, bumpErr)
	}
	delErr := t.provider.Del(ctx, sk)

	switch {
	case bumpErr != nil && delErr != nil:
		t.hooks.ForgetOutage(variation, bumpErr, delErr)
		t.log.Error("tier forget failed", Fields{"key": sk, "bump_err": bumpErr, "del_err": delErr})
		return &ForgetError{Key: variation, BumpErr: bumpErr, DelErr: delErr}
	case bumpErr != nil:
		t.log.Warn("tier forget: gen bump failed; record deleted", Fields{"key": sk, "err": bumpErr})
	case delErr != nil:
		t.log.Warn("tier forget: delete failed; gen bumped", Fields{"key": sk, "gen": g, "err": delErr})
	default:
		t.log.Debug("tier forget", Fields{"key": sk, "gen": g})
	}
	return nil
}

func (t *tier) close(ctx context.Context) error {
	gerr := t.gens.Close(ctx)
	perr := t.provider.Close(ctx)
	if perr != nil {
		return perr
	}
	return gerr
}
