// Package ristretto adapts dgraph-io/ristretto as a cost-bounded volatile
// hot-storage tier. Cost is the stored byte length, so MaxBytes is a byte
// budget. Admission is probabilistic: Set may report ok=false, in which case
// the bank keeps the item at its previous tier.
package ristretto

import (
	"context"
	"errors"
	"sync/atomic"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/databank/provider"
)

const (
	defaultAvgEntryBytes = 4 << 10
	defaultBufferItems   = 64
	minCounters          = 1e4
)

// Config sizes the cache from a byte budget. Counters default to ten per
// expected entry, which is what ristretto's admission policy wants.
type Config struct {
	MaxBytes      int64
	AvgEntryBytes int64 // 0 => 4KiB
	NumCounters   int64 // 0 => derived from MaxBytes / AvgEntryBytes
	BufferItems   int64 // 0 => 64
	Metrics       bool
}

type Provider struct {
	c        *rc.Cache
	rejected atomic.Uint64
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.MaxBytes <= 0 {
		return nil, errors.New("ristretto provider: MaxBytes required")
	}
	avg := cfg.AvgEntryBytes
	if avg <= 0 {
		avg = defaultAvgEntryBytes
	}
	counters := cfg.NumCounters
	if counters <= 0 {
		counters = max(cfg.MaxBytes/avg*10, minCounters)
	}
	buf := cfg.BufferItems
	if buf <= 0 {
		buf = defaultBufferItems
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: counters,
		MaxCost:     cfg.MaxBytes,
		BufferItems: buf,
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
	b, ok := v.([]byte)
	if !ok {
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set reports ok only once the copy is readable: the bank records a hot
// handle right after a successful write and must not point at nothing.
func (p *Provider) Set(_ context.Context, key string, value []byte) (bool, error) {
	if !p.c.Set(key, value, int64(len(value))) {
		p.rejected.Add(1)
		return false, nil
	}
	p.c.Wait()
	if _, ok := p.c.Get(key); !ok {
		p.rejected.Add(1)
		return false, nil
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Clear(context.Context) error {
	p.c.Clear()
	return nil
}

func (p *Provider) Close(context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Rejected counts writes the admission policy refused.
func (p *Provider) Rejected() uint64 { return p.rejected.Load() }

// Metrics exposes ristretto counters when Config.Metrics is set.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
