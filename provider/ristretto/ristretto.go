// Package ristretto adapts dgraph-io/ristretto as an in-process bounded
// backing cache. It is the default provider when none is injected.
package ristretto

import (
	"context"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/brandturbo/apollo-datasource-firestore/provider"
)

type Provider struct {
	c *rc.Cache
}

var _ pr.Provider = (*Provider)(nil)

// Config bounds the in-process cache. Zero values get defaults sized for
// a single-process deployment caching encoded documents.
type Config struct {
	// NumCounters is the number of keys ristretto tracks frequency for.
	// 0 => 100_000.
	NumCounters int64
	// MaxCost is the total cost budget; the data source passes the
	// encoded payload size as cost, so this is roughly bytes. 0 => 64 MiB.
	MaxCost int64
	// BufferItems is ristretto's Get buffer size. 0 => 64.
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 100_000
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 64 << 20
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
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
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// unexpected entry shape; drop it
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if cost <= 0 {
		cost = int64(len(value))
	}
	if ttl <= 0 {
		// no expiry; eviction stays cost-bounded
		return p.c.Set(key, value, cost), nil
	}
	return p.c.SetWithTTL(key, value, cost, ttl), nil
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

// Metrics exposes ristretto's metrics; not part of the Provider contract.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
