package databank

import (
	"sync"
	"sync/atomic"
	"time"
)

// stamp is a source modification time in unix nanos; set is false for
// sources without one.
type stamp struct {
	ns  int64
	set bool
}

// hotHandle points at a serialized copy in hot storage.
type hotHandle struct {
	key  string // provider key
	size int64  // framed bytes as stored
	at   stamp
}

// item is the unit of caching. Everything except key, epoch, src and the
// atomics is guarded by mu.
type item[V Data] struct {
	key   string
	epoch uint64
	src   Source

	mu      sync.Mutex
	obj     V
	hasObj  bool
	objAt   stamp // source stamp the object was produced from
	hot     *hotHandle
	bucket  *bucket[V]
	removed bool

	tier       atomic.Uint32 // mirrors bucket.tier for lock-free reads
	lastAccess atomic.Int64  // unix nanos; 0 = never fetched
}

func newItem[V Data](key string, src Source, epoch uint64) *item[V] {
	return &item[V]{key: key, src: src, epoch: epoch}
}

func (it *item[V]) currentTier() Tier { return Tier(it.tier.Load()) }

func (it *item[V]) setTier(t Tier) { it.tier.Store(uint32(t)) }

func (it *item[V]) touch() { it.lastAccess.Store(time.Now().UnixNano()) }

func (it *item[V]) accessedAt() time.Time {
	ns := it.lastAccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// setObject installs v produced from the source as of at. Caller holds mu.
func (it *item[V]) setObject(v V, at stamp) {
	it.obj, it.hasObj, it.objAt = v, true, at
}

// freeObject releases the in-memory object. Caller holds mu.
func (it *item[V]) freeObject() {
	if !it.hasObj {
		return
	}
	it.obj.AboutToUnload()
	var zero V
	it.obj, it.hasObj, it.objAt = zero, false, stamp{}
}

// consistent reports whether the payload fields match the tier. Caller
// holds mu.
func (it *item[V]) consistent() bool {
	if it.removed {
		return it.bucket == nil
	}
	if it.bucket == nil || it.bucket.tier != it.currentTier() {
		return false
	}
	switch it.currentTier() {
	case InSource:
		return !it.hasObj && it.hot == nil
	case InHotStorage:
		return !it.hasObj && it.hot != nil
	case InMemory:
		return it.hasObj
	}
	return false
}

func stampOf(src Source) stamp {
	t, ok := src.ModifiedAt()
	if !ok {
		return stamp{}
	}
	return stamp{ns: t.UnixNano(), set: true}
}

// fresh applies the staleness rule: a copy is valid iff the source has no
// modtime, or the modtime equals the recorded stamp exactly.
func fresh(src Source, at stamp) bool {
	cur := stampOf(src)
	if !cur.set {
		return true
	}
	return at.set && at.ns == cur.ns
}
