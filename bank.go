package databank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	c "github.com/unkn0wn-root/databank/codec"
	"github.com/unkn0wn-root/databank/internal/pathkey"
	"github.com/unkn0wn-root/databank/internal/wire"
	pr "github.com/unkn0wn-root/databank/provider"
	"github.com/unkn0wn-root/databank/provider/file"
)

type bank[V Data] struct {
	loader        Loader[V]
	codec         c.Codec[V]
	log           Logger
	hooks         Hooks
	evictor       Evictor
	deleteOnClose bool

	idxMu sync.RWMutex
	idx   *pathkey.Index[*item[V]]
	epoch atomic.Uint64

	hotMu   sync.RWMutex
	hot     pr.Provider
	hotOn   bool
	ownsHot bool // hot was opened by the bank from a root path

	buckets [numTiers]*bucket[V]
	sched   *scheduler[V]
	notes   *notifier
	loop    *loop // nil unless threaded without a Dispatcher
	closed  atomic.Bool
}

var _ Bank[Data] = (*bank[Data])(nil)

func newBank[V Data](opts Options[V]) (*bank[V], error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("databank: loader is required")
	}
	if opts.Separator == '/' {
		return nil, fmt.Errorf("databank: separator %q is reserved for hot-storage paths", opts.Separator)
	}

	b := &bank[V]{
		loader:        opts.Loader,
		codec:         opts.Codec,
		evictor:       opts.Evictor,
		deleteOnClose: opts.DeleteHotStorageOnClose,
		idx:           pathkey.New[*item[V]](opts.Separator),
	}

	// defaults
	b.log = coalesce[Logger](opts.Logger, NopLogger{})
	b.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	b.buckets[InSource] = newBucket[V](InSource, sourcePolicy[V]{})
	b.buckets[InHotStorage] = newBucket[V](InHotStorage, hotPolicy[V]{b: b})
	b.buckets[InMemory] = newBucket[V](InMemory, memoryPolicy[V]{b: b})
	b.buckets[InMemory].setMaxBytes(opts.MaxMemoryBytes)
	b.buckets[InMemory].setMaxItems(opts.MaxMemoryItems)
	b.buckets[InHotStorage].setMaxBytes(opts.MaxHotStorageBytes)

	if err := b.openHot(opts); err != nil {
		return nil, err
	}

	var d Dispatcher
	if opts.Threaded {
		d = opts.Dispatcher
		if d == nil {
			b.loop = newLoop()
			d = b.loop
		}
	}
	b.notes = newNotifier(d)

	workers := coalesce(opts.Workers, defaultWorkers)
	if workers < 0 {
		workers = defaultWorkers
	}
	b.sched = newScheduler[V](opts.Threaded, workers, b.exec, b.notes.kick, b.log, b.hooks)

	b.log.Debug("bank ready", Fields{
		"threaded": opts.Threaded, "workers": workers, "hot_storage": b.HotStorageEnabled(),
	})
	return b, nil
}

func (b *bank[V]) openHot(opts Options[V]) error {
	if opts.DisableHotStorage || b.codec == nil {
		return nil
	}
	switch {
	case opts.HotStorage != nil:
		b.hot = opts.HotStorage
	case opts.HotStorageRoot != "":
		fs, err := file.New(file.Config{Root: opts.HotStorageRoot})
		if err != nil {
			return fmt.Errorf("databank: open hot storage: %w", err)
		}
		b.hot, b.ownsHot = fs, true
	default:
		return nil
	}
	b.hotOn = true
	return nil
}

// provider returns the hot store, or nil while hot storage is off.
func (b *bank[V]) provider() pr.Provider {
	b.hotMu.RLock()
	defer b.hotMu.RUnlock()
	if !b.hotOn {
		return nil
	}
	return b.hot
}

func (b *bank[V]) HotStorageEnabled() bool { return b.provider() != nil }

// hotKey maps a bank key to its provider key: segments joined by "/".
func (b *bank[V]) hotKey(key string) string {
	segs, err := b.idx.Segments(key)
	if err != nil {
		return key
	}
	return strings.Join(segs, "/")
}

func (b *bank[V]) lookup(key string) (*item[V], bool) {
	b.idxMu.RLock()
	defer b.idxMu.RUnlock()
	return b.idx.Find(key)
}

// ---------- registration ----------

func (b *bank[V]) Add(ctx context.Context, key string, src Source) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if src == nil {
		return fmt.Errorf("databank: nil source for %q", key)
	}
	it := newItem[V](key, src, b.epoch.Add(1))

	// Hold the item before it becomes visible so no job can see it unplaced.
	it.mu.Lock()
	b.idxMu.Lock()
	err := b.idx.Insert(key, it)
	b.idxMu.Unlock()
	if err != nil {
		it.mu.Unlock()
		if errors.Is(err, pathkey.ErrDuplicate) {
			return &DuplicateKeyError{Key: key}
		}
		return fmt.Errorf("databank: add %q: %w", key, err)
	}
	b.putInBestCache(ctx, it)
	it.mu.Unlock()
	b.notes.kick()
	return nil
}

// putInBestCache places a new item: InHotStorage when a valid stored copy
// already exists, InSource otherwise. Caller holds it.mu.
func (b *bank[V]) putInBestCache(ctx context.Context, it *item[V]) {
	target := b.buckets[InSource]
	var size int64
	if p := b.provider(); p != nil {
		hk := b.hotKey(it.key)
		raw, ok, err := p.Get(ctx, hk)
		switch {
		case err != nil:
			b.hotFailed(it.key, "peek", err)
		case ok:
			h, err := wire.DecodeHeader(raw)
			if err != nil {
				b.hotFailed(it.key, "peek", err)
				break
			}
			at := stamp{ns: h.Stamp, set: h.HasStamp}
			if !fresh(it.src, at) {
				b.hooks.StaleHotCopy(it.key)
				b.log.Debug("stale hot copy ignored on add", keyFields(it.key))
				break
			}
			size = int64(len(raw))
			it.hot = &hotHandle{key: hk, size: size, at: at}
			target = b.buckets[InHotStorage]
		}
	}
	it.bucket = target
	it.setTier(target.tier)
	target.attach(it, size)
	b.checkLimit(target)
}

func (b *bank[V]) Remove(key string) error {
	b.idxMu.Lock()
	it, ok := b.idx.Remove(key)
	b.idxMu.Unlock()
	if !ok {
		return ErrNotFound
	}
	it.mu.Lock()
	b.retire(it)
	it.mu.Unlock()
	return nil
}

// retire frees an unindexed item's memory and bookkeeping. Hot copies stay
// on disk so a later registration can pick them up. Caller holds it.mu.
func (b *bank[V]) retire(it *item[V]) {
	it.freeObject()
	it.hot = nil
	if it.bucket != nil {
		it.bucket.detach(it)
		it.bucket = nil
	}
	it.removed = true
}

// ---------- tier movement ----------

// changeTier performs the full bucket-to-bucket move. Side effects of the
// target tier run first so a failure leaves the item where it was. Caller
// holds it.mu.
func (b *bank[V]) changeTier(ctx context.Context, it *item[V], target Tier) error {
	from := it.bucket
	if from.tier == target {
		return nil
	}
	to := b.buckets[target]
	size, err := to.policy.admit(ctx, it)
	if err != nil {
		b.repair(it)
		return err
	}
	from.policy.release(ctx, it, target)
	from.detach(it)
	to.attach(it, size)
	it.bucket = to
	it.setTier(target)

	b.notes.push(Event{Kind: EventLevelChanged, Key: it.key, Tier: target})
	if target == InMemory {
		b.notes.push(Event{Kind: EventLoaded, Key: it.key})
	}
	b.checkLimit(to)
	return nil
}

// repair moves an item whose hot copy was dropped during a failed admit
// back to source bookkeeping. Caller holds it.mu.
func (b *bank[V]) repair(it *item[V]) {
	if it.bucket.tier != InHotStorage || it.hot != nil {
		return
	}
	it.bucket.detach(it)
	it.bucket = b.buckets[InSource]
	it.bucket.attach(it, 0)
	it.setTier(InSource)
	b.notes.push(Event{Kind: EventLevelChanged, Key: it.key, Tier: InSource})
}

func (b *bank[V]) checkLimit(bk *bucket[V]) {
	if u := bk.usage(); u.Over() {
		b.hooks.TierOverLimit(bk.tier, u)
		b.log.Debug("tier over limit", Fields{
			"tier": bk.tier.String(), "items": u.Items, "bytes": u.Bytes,
			"max_items": u.MaxItems, "max_bytes": u.MaxBytes,
		})
	}
}

// load produces the object and the source stamp it reflects: from the hot
// copy when one is valid, from the source otherwise. A hot copy that fails
// in any way is dropped. Caller holds it.mu.
func (b *bank[V]) load(ctx context.Context, it *item[V]) (V, stamp, error) {
	if it.hot != nil {
		v, err := b.loadFromSerialized(ctx, it)
		if err == nil {
			return v, it.hot.at, nil
		}
		if errors.Is(err, errStale) {
			b.hooks.StaleHotCopy(it.key)
			b.log.Debug("stale hot copy, loading from source", keyFields(it.key))
		} else {
			var ae *AccessError
			if errors.As(err, &ae) {
				b.hotFailed(it.key, ae.Op, ae.Err)
			}
		}
		b.dropHotCopy(ctx, it)
	}
	return b.loadFromSource(ctx, it)
}

func (b *bank[V]) loadFromSource(ctx context.Context, it *item[V]) (V, stamp, error) {
	at := stampOf(it.src)
	v, err := b.loader.Load(ctx, it.key, it.src)
	return v, at, err
}

func (b *bank[V]) loadFromSerialized(ctx context.Context, it *item[V]) (V, error) {
	var zero V
	p := b.provider()
	if p == nil {
		return zero, &AccessError{Key: it.key, Op: "read", Err: ErrHotStorageDisabled}
	}
	if !fresh(it.src, it.hot.at) {
		return zero, errStale
	}
	raw, ok, err := p.Get(ctx, it.hot.key)
	if err != nil {
		return zero, &AccessError{Key: it.key, Op: "read", Err: err}
	}
	if !ok {
		return zero, &AccessError{Key: it.key, Op: "read", Err: errHotCopyMissing}
	}
	h, payload, err := wire.Decode(raw)
	if err != nil {
		return zero, &AccessError{Key: it.key, Op: "decode", Err: err}
	}
	if !fresh(it.src, stamp{ns: h.Stamp, set: h.HasStamp}) {
		return zero, errStale
	}
	v, err := b.codec.Decode(payload)
	if err != nil {
		return zero, &AccessError{Key: it.key, Op: "decode", Err: err}
	}
	return v, nil
}

// serialize writes the item to hot storage and returns the stored size. It
// is a no-op when a valid copy already exists. Without an object, one is
// produced from source for the write and released afterwards. The copy is
// stamped with the source time the object was produced from, so an object
// that outlived a source change is written as stale. Caller holds it.mu.
func (b *bank[V]) serialize(ctx context.Context, it *item[V]) (int64, error) {
	p := b.provider()
	if p == nil {
		return 0, ErrHotStorageDisabled
	}
	if it.hot != nil && fresh(it.src, it.hot.at) {
		return it.hot.size, nil
	}

	// An object that predates a source change would be stale on arrival.
	v, at := it.obj, it.objAt
	if !it.hasObj || !fresh(it.src, it.objAt) {
		var err error
		if v, at, err = b.loadFromSource(ctx, it); err != nil {
			return 0, err
		}
		defer v.AboutToUnload()
	}
	if !v.ShouldBeSerialized() {
		return 0, errNotSerializable
	}

	payload, err := b.codec.Encode(v)
	if err != nil {
		b.hotFailed(it.key, "encode", err)
		return 0, &AccessError{Key: it.key, Op: "encode", Err: err}
	}
	raw := wire.Encode(wire.Header{Stamp: at.ns, HasStamp: at.set}, payload)

	hk := b.hotKey(it.key)
	ok, err := p.Set(ctx, hk, raw)
	if err == nil && !ok {
		err = errRejected
	}
	if err != nil {
		b.hotFailed(it.key, "write", err)
		return 0, &AccessError{Key: it.key, Op: "write", Err: err}
	}
	it.hot = &hotHandle{key: hk, size: int64(len(raw)), at: at}
	return it.hot.size, nil
}

// dropHotCopy deletes the stored copy, if any, and forgets the handle.
// Caller holds it.mu.
func (b *bank[V]) dropHotCopy(ctx context.Context, it *item[V]) {
	if it.hot == nil {
		return
	}
	hk := it.hot.key
	it.hot = nil
	if p := b.provider(); p != nil {
		if err := p.Del(ctx, hk); err != nil {
			b.hotFailed(it.key, "delete", err)
		}
	}
}

func (b *bank[V]) hotFailed(key, op string, err error) {
	b.hooks.HotStorageError(key, op, err)
	b.log.Warn("hot storage failed", keyFields(key, "op", op, "err", err.Error()))
}

// ---------- jobs ----------

// exec runs a job against the item currently registered under its key.
func (b *bank[V]) exec(ctx context.Context, j *job[V]) error {
	it, ok := b.lookup(j.key)
	if !ok || it.epoch != j.epoch {
		return ErrNotFound
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.removed {
		return ErrNotFound
	}

	switch j.kind {
	case JobLoad:
		if err := b.changeTier(ctx, it, InMemory); err != nil {
			return err
		}
		it.touch()
		j.val, j.loaded = it.obj, true
		return nil

	case JobSerialize:
		if j.demoteOnly && it.currentTier() <= InHotStorage {
			return nil
		}
		err := b.changeTier(ctx, it, InHotStorage)
		if errors.Is(err, ErrHotStorageDisabled) || errors.Is(err, errNotSerializable) {
			b.log.Debug("not serializable, unloading to source", j.fields())
			return b.changeTier(ctx, it, InSource)
		}
		return err

	case JobUnload:
		return b.changeTier(ctx, it, InSource)
	}
	return fmt.Errorf("databank: unknown job kind %d", j.kind)
}

func (b *bank[V]) submit(key string, kind JobKind, demoteOnly bool, imp Importance) error {
	if b.closed.Load() {
		return ErrClosed
	}
	it, ok := b.lookup(key)
	if !ok {
		return ErrNotFound
	}
	j := newJob[V](kind, key, it.epoch)
	j.demoteOnly = demoteOnly
	return b.sched.schedule(context.Background(), j, imp)
}

func (b *bank[V]) Load(key string, imp Importance) error {
	return b.submit(key, JobLoad, false, imp)
}

func (b *bank[V]) Serialize(key string, imp Importance) error {
	return b.submit(key, JobSerialize, false, imp)
}

// Unload demotes key to at most tier to. Items already at or below it are
// left alone.
func (b *bank[V]) Unload(key string, to Tier, imp Importance) error {
	switch to {
	case InSource:
		return b.submit(key, JobUnload, true, imp)
	case InHotStorage:
		return b.submit(key, JobSerialize, true, imp)
	default:
		return ErrInvalidTier
	}
}

func (b *bank[V]) UnloadAll(to Tier, imp Importance) {
	for _, k := range b.AllItems() {
		if err := b.Unload(k, to, imp); err != nil && !errors.Is(err, ErrNotFound) {
			b.log.Debug("unload all stopped", keyFields(k, "err", err.Error()))
			return
		}
	}
}

// ClearFromCache drops every cached form of key, leaving only its source.
func (b *bank[V]) ClearFromCache(key string, imp Importance) error {
	return b.Unload(key, InSource, imp)
}

func (b *bank[V]) Data(ctx context.Context, key string) (V, error) {
	var zero V
	if b.closed.Load() {
		return zero, ErrClosed
	}
	it, ok := b.lookup(key)
	if !ok {
		return zero, ErrNotFound
	}

	it.mu.Lock()
	if it.hasObj && !it.removed {
		v := it.obj
		it.touch()
		it.mu.Unlock()
		return v, nil
	}
	it.mu.Unlock()

	j := newJob[V](JobLoad, key, it.epoch)
	if err := b.sched.schedule(ctx, j, Immediately); err != nil {
		return zero, err
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if !j.loaded {
		return zero, &LoadError{Key: key, Err: j.err}
	}
	return j.val, nil
}

// ---------- inspection ----------

func (b *bank[V]) Has(key string) bool {
	_, ok := b.lookup(key)
	return ok
}

func (b *bank[V]) IsLoaded(key string) bool {
	t, ok := b.TierOf(key)
	return ok && t == InMemory
}

func (b *bank[V]) TierOf(key string) (Tier, bool) {
	it, ok := b.lookup(key)
	if !ok {
		return InSource, false
	}
	return it.currentTier(), true
}

func (b *bank[V]) Info(key string) (ItemInfo, bool) {
	it, ok := b.lookup(key)
	if !ok {
		return ItemInfo{}, false
	}
	t := it.currentTier()
	return ItemInfo{
		Key:        key,
		Tier:       t,
		LastAccess: it.accessedAt(),
		Bytes:      b.buckets[t].sizeOf(it),
	}, true
}

func (b *bank[V]) AllItems() []string {
	b.idxMu.RLock()
	defer b.idxMu.RUnlock()
	return b.idx.Keys()
}

func (b *bank[V]) Iterate(fn func(key string, t Tier) bool) {
	b.Walk("", fn)
}

// Walk visits key and everything below it. fn runs without bank locks held.
func (b *bank[V]) Walk(prefix string, fn func(key string, t Tier) bool) {
	type entry struct {
		key string
		it  *item[V]
	}
	var entries []entry
	b.idxMu.RLock()
	b.idx.Walk(prefix, func(k string, it *item[V]) bool {
		entries = append(entries, entry{k, it})
		return true
	})
	b.idxMu.RUnlock()

	for _, e := range entries {
		if !fn(e.key, e.it.currentTier()) {
			return
		}
	}
}

func (b *bank[V]) Stats() Stats {
	return Stats{
		Source:     b.buckets[InSource].usage(),
		HotStorage: b.buckets[InHotStorage].usage(),
		Memory:     b.buckets[InMemory].usage(),
	}
}

// ---------- limits & hot storage ----------

func (b *bank[V]) SetMaxMemory(n int64)     { b.buckets[InMemory].setMaxBytes(n) }
func (b *bank[V]) SetMaxHotStorage(n int64) { b.buckets[InHotStorage].setMaxBytes(n) }

func (b *bank[V]) SetMaxItems(t Tier, n int) {
	if t.valid() {
		b.buckets[t].setMaxItems(n)
	}
}

// SetHotStorageRoot points hot storage at a file store under root. Hot
// storage is off while it switches: serialized items go back to source
// (their old files are left in place) and in-memory items forget their
// fast-path copies.
func (b *bank[V]) SetHotStorageRoot(ctx context.Context, root string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if b.codec == nil {
		return ErrHotStorageDisabled
	}
	if err := b.sched.wait(ctx); err != nil {
		return err
	}

	b.hotMu.Lock()
	old, owned := b.hot, b.ownsHot
	b.hotOn = false
	b.hotMu.Unlock()

	b.forgetHotCopies(ctx)

	var errs []error
	if old != nil && owned {
		if err := old.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("databank: close old hot storage: %w", err))
		}
	}
	fs, err := file.New(file.Config{Root: root})
	if err != nil {
		b.hotMu.Lock()
		b.hot, b.ownsHot = nil, false
		b.hotMu.Unlock()
		errs = append(errs, fmt.Errorf("databank: open hot storage: %w", err))
		return errors.Join(errs...)
	}

	b.hotMu.Lock()
	b.hot, b.ownsHot, b.hotOn = fs, true, true
	b.hotMu.Unlock()
	b.log.Info("hot storage root changed", Fields{"root": fs.Root()})
	return errors.Join(errs...)
}

// ClearHotStorage deletes everything in hot storage. Serialized items move
// back to source first.
func (b *bank[V]) ClearHotStorage(ctx context.Context) error {
	p := b.provider()
	if p == nil {
		return ErrHotStorageDisabled
	}
	if err := b.sched.wait(ctx); err != nil {
		return err
	}
	b.forgetHotCopies(ctx)
	if err := p.Clear(ctx); err != nil {
		return fmt.Errorf("databank: clear hot storage: %w", err)
	}
	return nil
}

// forgetHotCopies drops every hot handle without touching stored bytes and
// demotes serialized items to source.
func (b *bank[V]) forgetHotCopies(ctx context.Context) {
	b.idxMu.RLock()
	var items []*item[V]
	b.idx.Walk("", func(_ string, it *item[V]) bool {
		items = append(items, it)
		return true
	})
	b.idxMu.RUnlock()

	for _, it := range items {
		it.mu.Lock()
		if !it.removed {
			it.hot = nil
			if it.bucket.tier == InHotStorage {
				_ = b.changeTier(ctx, it, InSource)
			}
		}
		it.mu.Unlock()
	}
	b.notes.kick()
}

// Purge asks the Evictor which members of each over-limit tier to demote
// and queues one-level unloads for them. It returns the number queued.
func (b *bank[V]) Purge(ctx context.Context) (int, error) {
	if b.evictor == nil {
		return 0, nil
	}
	n := 0
	for _, t := range []Tier{InMemory, InHotStorage} {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		bk := b.buckets[t]
		u := bk.usage()
		if !u.Over() {
			continue
		}
		for _, k := range b.evictor.Evict(t, u, bk.snapshot()) {
			if err := b.Unload(k, t-1, AfterQueued); err != nil {
				if errors.Is(err, ErrClosed) {
					return n, err
				}
				continue
			}
			n++
		}
	}
	return n, nil
}

// ---------- notifications & lifecycle ----------

func (b *bank[V]) Subscribe(a Audience) func() { return b.notes.subscribe(a) }

// Flush delivers pending notifications on the calling goroutine.
func (b *bank[V]) Flush() { b.notes.drain() }

func (b *bank[V]) Wait(ctx context.Context) error {
	return b.sched.wait(ctx)
}

// Clear waits for in-flight jobs, then empties every tier and the index.
// Stored hot copies are kept.
func (b *bank[V]) Clear(ctx context.Context) error {
	if err := b.sched.wait(ctx); err != nil {
		return err
	}
	b.idxMu.Lock()
	var items []*item[V]
	b.idx.Walk("", func(_ string, it *item[V]) bool {
		items = append(items, it)
		return true
	})
	b.idx.Reset()
	b.idxMu.Unlock()

	for _, it := range items {
		it.mu.Lock()
		b.retire(it)
		it.mu.Unlock()
	}
	for _, bk := range b.buckets {
		bk.reset()
	}
	b.log.Debug("bank cleared", Fields{"items": len(items)})
	return nil
}

// Close stops accepting work and waits for every job, queued or running on a
// caller's goroutine, before touching hot storage. It must not be called from
// a Loader or an Audience callback. A provider passed in Options.HotStorage
// stays open; one the bank opened from a root is closed.
func (b *bank[V]) Close(ctx context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}
	b.sched.close()

	var errs []error
	b.hotMu.Lock()
	p, on, owned := b.hot, b.hotOn, b.ownsHot
	b.hotOn = false
	b.hotMu.Unlock()
	if p != nil {
		if on && b.deleteOnClose {
			if err := p.Clear(ctx); err != nil {
				errs = append(errs, fmt.Errorf("databank: clear hot storage: %w", err))
			}
		}
		if owned {
			if err := p.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("databank: close hot storage: %w", err))
			}
		}
	}

	b.notes.drain()
	if b.loop != nil {
		b.loop.close()
	}
	return errors.Join(errs...)
}
