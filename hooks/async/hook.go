// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    CollapsedEvery: 100, // sample: ~every 100th collapsed job
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	bank, _ := databank.New[*Mesh](databank.Options[*Mesh]{
//	    Loader: loader,
//	    Codec:  codec.Msgpack[*Mesh]{},
//	    Hooks:  hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/unkn0wn-root/databank"
)

// Hooks forwards events to inner on background workers. When the queue is
// full the event is dropped and counted; a bank job never waits on a hook.
type Hooks struct {
	inner   databank.Hooks
	q       chan func()
	wg      conc.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ databank.Hooks = (*Hooks)(nil)

func New(inner databank.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	for i := 0; i < workers; i++ {
		h.wg.Go(func() {
			for f := range h.q {
				f()
			}
		})
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) JobFailed(k string, kind databank.JobKind, err error) {
	h.try(func() { h.inner.JobFailed(k, kind, err) })
}
func (h *Hooks) JobCollapsed(k string, kind databank.JobKind) {
	h.try(func() { h.inner.JobCollapsed(k, kind) })
}
func (h *Hooks) HotStorageError(k, op string, err error) {
	h.try(func() { h.inner.HotStorageError(k, op, err) })
}
func (h *Hooks) StaleHotCopy(k string) { h.try(func() { h.inner.StaleHotCopy(k) }) }
func (h *Hooks) TierOverLimit(t databank.Tier, u databank.Usage) {
	h.try(func() { h.inner.TierOverLimit(t, u) })
}
