// Package ristretto backs the warm tier with dgraph-io/ristretto.
// Sets are admitted asynchronously and may be dropped under contention;
// a dropped Set reports ok=false.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/querycache/provider"
)

type Provider struct {
	c    *rc.Cache
	sync bool
}

var _ pr.Provider = (*Provider)(nil)

// Config sizes the cache. Zero fields take defaults suited to a tier of
// API responses: 100k counters, 64 MiB of cost, 64 buffer items.
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// WaitOnSet blocks each Set until ristretto has applied it, so an
	// immediate Get observes the write. Useful in tests.
	WaitOnSet bool
}

func (c Config) withDefaults() Config {
	if c.NumCounters == 0 {
		c.NumCounters = 100_000
	}
	if c.MaxCost == 0 {
		c.MaxCost = 64 << 20
	}
	if c.BufferItems == 0 {
		c.BufferItems = 64
	}
	return c
}

func New(cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()
	if cfg.NumCounters < 0 || cfg.MaxCost < 0 || cfg.BufferItems < 0 {
		return nil, errors.New("ristretto: negative size in config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, sync: cfg.WaitOnSet}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok := p.c.SetWithTTL(key, value, cost, ttl)
	if ok && p.sync {
		p.c.Wait()
	}
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto metrics (nil unless Config.Metrics).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
