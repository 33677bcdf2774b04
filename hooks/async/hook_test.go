package asynchook

import (
	"errors"
	"sync"
	"testing"

	"github.com/unkn0wn-root/databank"
)

type countingHooks struct {
	databank.NopHooks
	mu     sync.Mutex
	failed int
	stale  int
	block  chan struct{}
}

func (c *countingHooks) JobFailed(string, databank.JobKind, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}

func (c *countingHooks) StaleHotCopy(string) {
	c.mu.Lock()
	c.stale++
	c.mu.Unlock()
}

func TestForwardsAndDrainsOnClose(t *testing.T) {
	inner := &countingHooks{}
	h := New(inner, 2, 16)
	for i := 0; i < 5; i++ {
		h.JobFailed("k", databank.JobLoad, errors.New("x"))
	}
	h.StaleHotCopy("k")
	h.Close()

	if inner.failed != 5 || inner.stale != 1 {
		t.Fatalf("failed=%d stale=%d", inner.failed, inner.stale)
	}
	h.StaleHotCopy("k")
	if h.Dropped() != 1 {
		t.Fatalf("event after Close should be dropped, dropped=%d", h.Dropped())
	}
	h.Close() // idempotent
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	inner := &countingHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)

	// one event parks the worker, one fills the queue, the rest overflow
	for i := 0; i < 10; i++ {
		h.JobFailed("k", databank.JobLoad, nil)
	}
	if h.Dropped() < 8 {
		t.Fatalf("expected at least 8 drops, got %d", h.Dropped())
	}
	close(inner.block)
	h.Close()
}
