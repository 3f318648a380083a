package pinnit

import (
	"context"
	"time"
)

// Slot names a partition of on-device pin storage.
type Slot string

const (
	// SlotAnonymous holds the complete collection for the no-identity state.
	SlotAnonymous Slot = "anonymous"

	// SlotSignedInCache holds the last known snapshot of the signed-in
	// identity's remote collection, plus any local edits not yet replayed.
	SlotSignedInCache Slot = "signed_in_cache"
)

// LocalStore is durable on-device storage with one typed accessor per slot,
// so callers cannot address storage by raw key.
//
// Each method is atomic for the single slot it touches. Nothing is atomic
// across slots, and every write overwrites the previous contents without a
// concurrency check.
type LocalStore interface {
	// ReadPins returns the collection stored in slot. found reports whether
	// the slot has ever been written; an unwritten slot yields an empty
	// collection.
	ReadPins(ctx context.Context, slot Slot) (pins []Pin, found bool, err error)

	// WritePins replaces the contents of slot wholesale.
	WritePins(ctx context.Context, slot Slot, pins []Pin) error

	// ClearPins removes slot entirely. Clearing an unwritten slot is a no-op.
	ClearPins(ctx context.Context, slot Slot) error

	// PendingWrite reports whether the signed-in cache has local changes
	// that have not been confirmed written to the remote store.
	PendingWrite(ctx context.Context) (bool, error)

	// SetPendingWrite sets or clears the pending-write flag.
	SetPendingWrite(ctx context.Context, pending bool) error

	// LastSyncAt returns when the signed-in cache was last confirmed
	// consistent with the remote store. ok is false if it never was.
	LastSyncAt(ctx context.Context) (t time.Time, ok bool, err error)

	// SetLastSyncAt records the last confirmed sync time.
	SetLastSyncAt(ctx context.Context, t time.Time) error

	// ClearLastSyncAt forgets the last sync time.
	ClearLastSyncAt(ctx context.Context) error

	// CacheOwner returns the ID of the identity the signed-in cache, pending
	// flag and last sync time belong to. ok is false if none is recorded.
	CacheOwner(ctx context.Context) (id string, ok bool, err error)

	// SetCacheOwner records the owning identity. An empty id clears it.
	SetCacheOwner(ctx context.Context, id string) error

	// Close releases the underlying storage.
	Close() error
}
