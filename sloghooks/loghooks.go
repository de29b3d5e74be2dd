// Package sloghooks reports querycache.Hooks events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/querycache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	DedupEvery    uint64
	EvictEvery    uint64
	SelfHealEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	dedupCtr    atomic.Uint64
	evictCtr    atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchDeduped(key string) {
	if h.l == nil || !sample(h.opts.DedupEvery, &h.dedupCtr) {
		return
	}
	h.l.Debug("querycache.fetch_deduped", "key", h.redact(key))
}

func (h *Hooks) ListenerPanic(key string, recovered any) {
	if h.l == nil {
		return
	}
	h.l.Error("querycache.listener_panic",
		"key", h.redact(key),
		"panic", fmt.Sprint(recovered))
}

func (h *Hooks) Evicted(key string) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("querycache.evicted", "key", h.redact(key))
}

func (h *Hooks) TierSelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("querycache.tier_self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) TierSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.tier_set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.gen_snapshot_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) GenBumpError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.gen_bump_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) ForgetOutage(key string, bumpErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("querycache.forget_outage",
		"key", h.redact(key),
		"bump_err", bumpErr,
		"del_err", delErr)
}
