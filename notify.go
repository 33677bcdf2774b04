package databank

import (
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
)

// Audience receives tier notifications. Callbacks for one bank never run
// concurrently with each other; they may call back into the bank.
type Audience interface {
	Loaded(key string)
	CacheLevelChanged(key string, t Tier)
}

// AudienceFuncs adapts plain functions to Audience. Nil fields are skipped.
type AudienceFuncs struct {
	OnLoaded       func(key string)
	OnLevelChanged func(key string, t Tier)
}

func (a AudienceFuncs) Loaded(key string) {
	if a.OnLoaded != nil {
		a.OnLoaded(key)
	}
}

func (a AudienceFuncs) CacheLevelChanged(key string, t Tier) {
	if a.OnLevelChanged != nil {
		a.OnLevelChanged(key, t)
	}
}

// Dispatcher schedules a drain on the bank owner's event loop. Dispatch
// must not run f synchronously.
type Dispatcher interface {
	Dispatch(f func())
}

type DispatcherFunc func(f func())

func (d DispatcherFunc) Dispatch(f func()) { d(f) }

type EventKind uint8

const (
	EventLoaded EventKind = iota
	EventLevelChanged
)

type Event struct {
	Kind EventKind
	Key  string
	Tier Tier
}

// notifier is the FIFO between tier changes and audiences. With a nil
// dispatcher, kick drains on the calling goroutine.
type notifier struct {
	mu     sync.Mutex
	queue  []Event
	subs   map[uint64]Audience
	nextID uint64

	drainMu  sync.Mutex
	posted   atomic.Bool
	dispatch Dispatcher
}

func newNotifier(d Dispatcher) *notifier {
	return &notifier{subs: make(map[uint64]Audience), dispatch: d}
}

func (n *notifier) push(e Event) {
	n.mu.Lock()
	n.queue = append(n.queue, e)
	n.mu.Unlock()
}

func (n *notifier) subscribe(a Audience) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = a
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue) > 0
}

// kick arranges for queued events to be delivered.
func (n *notifier) kick() {
	if !n.pending() {
		return
	}
	if n.dispatch == nil {
		n.drain()
		return
	}
	if n.posted.CompareAndSwap(false, true) {
		n.dispatch.Dispatch(func() {
			n.posted.Store(false)
			n.drain()
		})
	}
}

// drain delivers until the queue is empty. A drain already in progress
// (another goroutine, or a callback re-entering the bank) picks up whatever
// is pushed meanwhile, so a failed TryLock just returns.
func (n *notifier) drain() {
	for {
		if !n.drainMu.TryLock() {
			return
		}
		for {
			n.mu.Lock()
			batch := n.queue
			n.queue = nil
			subs := make([]Audience, 0, len(n.subs))
			for _, a := range n.subs {
				subs = append(subs, a)
			}
			n.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, e := range batch {
				for _, a := range subs {
					deliver(a, e)
				}
			}
		}
		n.drainMu.Unlock()
		if !n.pending() {
			return
		}
	}
}

func deliver(a Audience, e Event) {
	switch e.Kind {
	case EventLoaded:
		a.Loaded(e.Key)
	case EventLevelChanged:
		a.CacheLevelChanged(e.Key, e.Tier)
	}
}

// loop is the default Dispatcher for threaded banks without one: a single
// goroutine running posted drains in order.
type loop struct {
	mu     sync.Mutex
	ch     chan func()
	closed bool
	wg     conc.WaitGroup
}

func newLoop() *loop {
	l := &loop{ch: make(chan func(), 1)}
	l.wg.Go(func() {
		for f := range l.ch {
			f()
		}
	})
	return l
}

func (l *loop) Dispatch(f func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.ch <- f
}

func (l *loop) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()
	l.wg.Wait()
}
