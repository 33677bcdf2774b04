// Package sloghooks implements databank.Hooks on top of log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/databank"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	CollapsedEvery uint64
	StaleEvery     uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
	// Keep keys readable instead of hashing them.
	PlainKeys bool
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	collapsedCtr atomic.Uint64
	staleCtr     atomic.Uint64
}

var _ databank.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	if h.opts.PlainKeys {
		return k
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

func (h *Hooks) JobFailed(key string, kind databank.JobKind, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("databank.job_failed",
		"key", h.redact(key),
		"job", kind.String(),
		"err", err)
}

func (h *Hooks) JobCollapsed(key string, kind databank.JobKind) {
	if h.l == nil || !sample(h.opts.CollapsedEvery, &h.collapsedCtr) {
		return
	}
	h.l.Debug("databank.job_collapsed",
		"key", h.redact(key),
		"job", kind.String())
}

func (h *Hooks) HotStorageError(key, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("databank.hot_storage_error",
		"key", h.redact(key),
		"op", op,
		"err", err)
}

func (h *Hooks) StaleHotCopy(key string) {
	if h.l == nil || !sample(h.opts.StaleEvery, &h.staleCtr) {
		return
	}
	h.l.Info("databank.stale_hot_copy",
		"key", h.redact(key))
}

func (h *Hooks) TierOverLimit(t databank.Tier, u databank.Usage) {
	if h.l == nil {
		return
	}
	h.l.Info("databank.tier_over_limit",
		"tier", t.String(),
		"items", u.Items,
		"bytes", u.Bytes,
		"max_items", u.MaxItems,
		"max_bytes", u.MaxBytes)
}
