package databank

import (
	"context"
	"sync"
)

// bucket is the bookkeeping half of a cache tier. mu guards accounting only;
// payload side effects run in the tier policy under the item lock. Lock
// order is always item, then bucket.
type bucket[V Data] struct {
	tier   Tier
	policy tierPolicy[V]

	mu       sync.Mutex
	members  map[*item[V]]int64
	bytes    int64
	maxBytes int64
	maxItems int
}

func newBucket[V Data](t Tier, p tierPolicy[V]) *bucket[V] {
	return &bucket[V]{tier: t, policy: p, members: make(map[*item[V]]int64)}
}

func (b *bucket[V]) attach(it *item[V], size int64) {
	b.mu.Lock()
	b.bytes += size - b.members[it]
	b.members[it] = size
	b.mu.Unlock()
}

func (b *bucket[V]) detach(it *item[V]) {
	b.mu.Lock()
	if size, ok := b.members[it]; ok {
		b.bytes -= size
		delete(b.members, it)
	}
	b.mu.Unlock()
}

func (b *bucket[V]) contains(it *item[V]) bool {
	b.mu.Lock()
	_, ok := b.members[it]
	b.mu.Unlock()
	return ok
}

func (b *bucket[V]) sizeOf(it *item[V]) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.members[it]
}

func (b *bucket[V]) byteCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

func (b *bucket[V]) itemCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members)
}

func (b *bucket[V]) setMaxBytes(n int64) {
	b.mu.Lock()
	b.maxBytes = max(n, 0)
	b.mu.Unlock()
}

func (b *bucket[V]) setMaxItems(n int) {
	b.mu.Lock()
	b.maxItems = max(n, 0)
	b.mu.Unlock()
}

func (b *bucket[V]) usage() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Usage{Items: len(b.members), Bytes: b.bytes, MaxItems: b.maxItems, MaxBytes: b.maxBytes}
}

// snapshot lists the members for an Evictor.
func (b *bucket[V]) snapshot() []ItemInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ItemInfo, 0, len(b.members))
	for it, size := range b.members {
		out = append(out, ItemInfo{Key: it.key, Tier: b.tier, LastAccess: it.accessedAt(), Bytes: size})
	}
	return out
}

func (b *bucket[V]) reset() {
	b.mu.Lock()
	clear(b.members)
	b.bytes = 0
	b.mu.Unlock()
}

// tierPolicy owns the payload side effects of entering and leaving a tier.
// Both run with the item lock held and no bucket lock.
type tierPolicy[V Data] interface {
	// admit produces the payload the tier requires and returns the bytes to
	// account for it. On error the item must be left as it was found, apart
	// from dropped invalid hot copies.
	admit(ctx context.Context, it *item[V]) (int64, error)
	// release frees what the tier held; next is the tier being entered.
	release(ctx context.Context, it *item[V], next Tier)
}

type sourcePolicy[V Data] struct{}

func (sourcePolicy[V]) admit(context.Context, *item[V]) (int64, error) { return 0, nil }
func (sourcePolicy[V]) release(context.Context, *item[V], Tier)        {}

// hotPolicy serializes on admit and deletes the stored copy on release,
// except when the item moves up to memory: then the copy stays as a fast
// path for the next reload and is no longer accounted.
type hotPolicy[V Data] struct{ b *bank[V] }

func (p hotPolicy[V]) admit(ctx context.Context, it *item[V]) (int64, error) {
	return p.b.serialize(ctx, it)
}

func (p hotPolicy[V]) release(ctx context.Context, it *item[V], next Tier) {
	if next != InMemory {
		p.b.dropHotCopy(ctx, it)
	}
}

// memoryPolicy loads on admit and frees the object on release.
type memoryPolicy[V Data] struct{ b *bank[V] }

func (p memoryPolicy[V]) admit(ctx context.Context, it *item[V]) (int64, error) {
	if !it.hasObj {
		v, at, err := p.b.load(ctx, it)
		if err != nil {
			return 0, err
		}
		it.setObject(v, at)
	}
	return max(it.obj.SizeInMemory(), 0), nil
}

func (p memoryPolicy[V]) release(ctx context.Context, it *item[V], next Tier) {
	it.freeObject()
	if next == InSource {
		p.b.dropHotCopy(ctx, it)
	}
}
