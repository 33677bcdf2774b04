package databank

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/databank/codec"
	pr "github.com/unkn0wn-root/databank/provider"
)

// Source describes how to produce an item from cold storage. The bank never
// inspects it beyond ModifiedAt; the Loader interprets it.
type Source interface {
	// ModifiedAt reports the last modification of the underlying data.
	// ok=false means the source has no notion of modification time, and any
	// serialized copy is considered current.
	ModifiedAt() (t time.Time, ok bool)
}

// Data is implemented by the values a bank materializes.
type Data interface {
	// SizeInMemory is the byte size used for InMemory tier accounting.
	SizeInMemory() int64
	// AboutToUnload is called (under the item lock) right before the bank
	// drops its reference to the value.
	AboutToUnload()
	// ShouldBeSerialized reports whether this value may be written to hot
	// storage. Values that return false unload straight to InSource.
	ShouldBeSerialized() bool
}

// Loader produces V from its Source. It runs on whichever goroutine executes
// the load job and must be safe for concurrent use across keys.
type Loader[V Data] interface {
	Load(ctx context.Context, key string, src Source) (V, error)
}

type LoaderFunc[V Data] func(ctx context.Context, key string, src Source) (V, error)

func (f LoaderFunc[V]) Load(ctx context.Context, key string, src Source) (V, error) {
	return f(ctx, key, src)
}

// Bank is the public surface of a data bank. V is the materialized value.
type Bank[V Data] interface {
	// Registration
	Add(ctx context.Context, key string, src Source) error
	Remove(key string) error

	// Tier movement. Asynchronous calls only fail for unknown keys or a
	// closed bank; job failures are logged and reported via Hooks.
	Load(key string, imp Importance) error
	Serialize(key string, imp Importance) error
	Unload(key string, to Tier, imp Importance) error
	UnloadAll(to Tier, imp Importance)
	ClearFromCache(key string, imp Importance) error

	// Data blocks until key is InMemory and returns the value.
	Data(ctx context.Context, key string) (V, error)

	// Inspection
	Has(key string) bool
	IsLoaded(key string) bool
	TierOf(key string) (Tier, bool)
	Info(key string) (ItemInfo, bool)
	AllItems() []string
	Iterate(fn func(key string, t Tier) bool)
	Walk(prefix string, fn func(key string, t Tier) bool)
	Stats() Stats

	// Limits and hot storage
	SetMaxMemory(bytes int64)
	SetMaxHotStorage(bytes int64)
	SetMaxItems(t Tier, n int)
	SetHotStorageRoot(ctx context.Context, root string) error
	HotStorageEnabled() bool
	ClearHotStorage(ctx context.Context) error
	Purge(ctx context.Context) (int, error)

	// Notifications
	Subscribe(a Audience) (unsubscribe func())
	Flush()

	// Lifecycle
	Wait(ctx context.Context) error
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// Options configure a bank. Only Loader is required; others have defaults.
type Options[V Data] struct {
	// Required
	Loader Loader[V]

	// Hot storage. A nil Codec disables hot storage entirely.
	Codec          c.Codec[V]
	// HotStorage stays owned by the caller: the bank never closes it.
	HotStorage     pr.Provider // nil => file provider at HotStorageRoot
	HotStorageRoot string      // used when HotStorage is nil; "" => hot storage disabled
	// DisableHotStorage turns hot storage off even if a provider is set.
	DisableHotStorage bool
	// DeleteHotStorageOnClose clears hot storage in Close.
	DeleteHotStorageOnClose bool

	// Scheduling
	Threaded bool // false => every job runs on the calling goroutine
	Workers  int  // pool size when Threaded; 0 => 2

	// Keys
	Separator rune // 0 => '.'

	// Advisory ceilings; 0 => unbounded. Exceeding them fires
	// Hooks.TierOverLimit and makes Purge consult the Evictor.
	MaxMemoryBytes     int64
	MaxHotStorageBytes int64
	MaxMemoryItems     int

	// Dispatcher runs notification drains on the owner's event loop when
	// Threaded. nil => a bank-owned serial goroutine.
	Dispatcher Dispatcher

	Logger  Logger  // nil => NopLogger
	Hooks   Hooks   // nil => NopHooks
	Evictor Evictor // nil => Purge is a no-op
}

// ItemInfo is a point-in-time view of one item.
type ItemInfo struct {
	Key        string
	Tier       Tier
	LastAccess time.Time // zero if never fetched
	Bytes      int64     // bytes accounted to Tier
}

// Usage is the accounting of one tier.
type Usage struct {
	Items    int
	Bytes    int64
	MaxItems int   // 0 = unbounded
	MaxBytes int64 // 0 = unbounded
}

// Over reports whether either ceiling is exceeded.
func (u Usage) Over() bool {
	return (u.MaxBytes > 0 && u.Bytes > u.MaxBytes) || (u.MaxItems > 0 && u.Items > u.MaxItems)
}

type Stats struct {
	Source     Usage
	HotStorage Usage
	Memory     Usage
}

// Evictor is the pluggable purge strategy. The bank tracks ceilings but never
// evicts on its own; Purge hands each over-limit tier's members to Evict and
// demotes the returned keys one tier down.
type Evictor interface {
	Evict(t Tier, u Usage, members []ItemInfo) []string
}

type EvictorFunc func(t Tier, u Usage, members []ItemInfo) []string

func (f EvictorFunc) Evict(t Tier, u Usage, members []ItemInfo) []string { return f(t, u, members) }

func New[V Data](opts Options[V]) (Bank[V], error) {
	return newBank[V](opts)
}
