// Package databank implements a multi-tier data bank: a keyed store for
// large, expensive-to-produce items that moves each item between three
// tiers in the background.
//
// Tiers:
//   - InSource: only the caller's Source descriptor is held (cold).
//   - InHotStorage: a serialized image lives in a Provider (disk by default),
//     stamped with the source's modification time.
//   - InMemory: the fully materialized value V is owned by the bank.
//
// Keys are hierarchical paths ("render.mesh.rock01"); the separator is
// configurable. Hot-storage entries are named by the key, so a new bank
// pointed at the same root recovers serialized items without reloading them.
//
// Jobs (load, serialize, unload) run inline or on a small worker pool,
// selected per call by an Importance hint. Data is the only blocking read:
//
//	b, _ := databank.New[*Mesh](databank.Options[*Mesh]{
//	    Loader:         databank.LoaderFunc[*Mesh](loadMesh),
//	    Codec:          codec.Msgpack[*Mesh]{},
//	    HotStorageRoot: "/var/cache/meshes",
//	    Threaded:       true,
//	})
//	_ = b.Add(ctx, "mesh.rock01", src)
//	_ = b.Load("mesh.rock01", databank.AfterQueued) // returns immediately
//	m, err := b.Data(ctx, "mesh.rock01")          // blocks until loaded
//
// Tier changes are reported to subscribed Audiences, never concurrently
// with each other.
package databank
