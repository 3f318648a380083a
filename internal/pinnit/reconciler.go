package pinnit

import (
	"context"
	"fmt"
	"time"
)

// Reconciler decides, per call, whether the on-device cache or the remote
// store is authoritative for a user's pins, and keeps the two converging.
//
// It holds no session or connectivity state of its own. Every operation
// receives the current identity (nil for anonymous) and connectivity and
// re-derives its behaviour from them. There is no locking: concurrent
// writers to the same slot are last-write-wins.
//
// The signed-in cache, pending flag and last sync time are recorded as
// belonging to one identity. A different identity never reads or replays
// them: a synced cache is dropped, and unsynced changes are refused with
// ErrCacheOwned until their owner syncs them or they are discarded through
// ClaimCache.
type Reconciler struct {
	local  LocalStore
	remote RemoteStore
	logger Logger
	clock  Clock
	idgen  IDGenerator
}

// NewReconciler creates a Reconciler. remote may be nil when no remote store
// is configured, in which case signed-in writes stay pending.
func NewReconciler(local LocalStore, remote RemoteStore, logger Logger, clock Clock, idgen IDGenerator) *Reconciler {
	return &Reconciler{
		local:  local,
		remote: remote,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// LoadPins returns the pins visible to who, newest first.
//
// Anonymous callers only ever see the anonymous slot. Signed-in callers get
// the remote collection when online (which then replaces the cache) and the
// cached snapshot when offline or when the remote cannot be reached. The
// remote is the sole truth for a signed-in read: anonymous pins are never
// merged in here.
func (r *Reconciler) LoadPins(ctx context.Context, who *Identity, online bool) ([]Pin, error) {
	now := r.clock.Now()

	if who == nil {
		pins, _, err := r.local.ReadPins(ctx, SlotAnonymous)
		if err != nil {
			return nil, storageError("reading anonymous slot", err)
		}
		return annotate(SortPins(pins), DeviceOwnerLabel, false, now), nil
	}

	if _, err := r.claimCache(ctx, *who, false); err != nil {
		return nil, err
	}

	label := who.OwnerLabel()
	if online {
		pins, ok, err := r.loadRemote(ctx, *who, label, now)
		if err != nil {
			return nil, err
		}
		if ok {
			return pins, nil
		}
	}

	pins, _, err := r.local.ReadPins(ctx, SlotSignedInCache)
	if err != nil {
		return nil, storageError("reading signed-in cache", err)
	}
	return annotate(SortPins(pins), label, false, now), nil
}

// loadRemote fetches the remote collection and refreshes the cache with it.
// ok is false when the caller should fall back to the cache.
func (r *Reconciler) loadRemote(ctx context.Context, who Identity, label string, now time.Time) (pins []Pin, ok bool, err error) {
	pending, err := r.local.PendingWrite(ctx)
	if err != nil {
		return nil, false, storageError("reading pending flag", err)
	}
	if pending {
		// The cache holds writes the remote has not seen. Fetching now would
		// overwrite them, so push them first and fall back if that fails.
		synced, err := r.replayCache(ctx, who)
		if err != nil {
			return nil, false, err
		}
		if !synced {
			return nil, false, nil
		}
	}

	remotePins, err := r.fetchRemote(ctx, who)
	if err != nil {
		r.logger.Warn("loading pins from remote failed, using cache", "identity", who.ID, "error", err)
		return nil, false, nil
	}

	pins = annotate(SortPins(remotePins), label, true, now)
	if err := r.local.WritePins(ctx, SlotSignedInCache, pins); err != nil {
		return nil, false, storageError("writing signed-in cache", err)
	}
	if err := r.local.SetLastSyncAt(ctx, now); err != nil {
		return nil, false, storageError("recording last sync", err)
	}

	r.logger.Debug("pins loaded from remote", "identity", who.ID, "count", len(pins))
	return pins, true, nil
}

// SavePins replaces the caller's whole collection.
//
// Anonymous writes go to the anonymous slot only. Signed-in writes land in
// the cache first, unconditionally, then are pushed to the remote when
// online. The pending flag is raised before the remote attempt and only
// cleared once it succeeds, so a failure between the remote's delete and
// insert phases is retried like any other failed write.
func (r *Reconciler) SavePins(ctx context.Context, who *Identity, online bool, pins []Pin) error {
	sorted := SortPins(pins)

	if who == nil {
		if err := r.local.WritePins(ctx, SlotAnonymous, sorted); err != nil {
			return storageError("writing anonymous slot", err)
		}
		return nil
	}

	if _, err := r.claimCache(ctx, *who, false); err != nil {
		return err
	}
	if err := r.local.WritePins(ctx, SlotSignedInCache, sorted); err != nil {
		return storageError("writing signed-in cache", err)
	}
	if err := r.local.SetPendingWrite(ctx, true); err != nil {
		return storageError("setting pending flag", err)
	}

	if !online {
		r.logger.Debug("offline, remote write deferred", "identity", who.ID, "count", len(sorted))
		return nil
	}

	if err := r.replaceRemote(ctx, *who, sorted); err != nil {
		r.logger.Warn("saving pins to remote failed, marked pending", "identity", who.ID, "error", err)
		return nil
	}
	return r.markSynced(ctx)
}

// RunPendingSync replays the cached collection to the remote if a write is
// pending. It reports whether a replay ran and succeeded. Remote failures
// leave the flag set for the next opportunity; there is no backoff.
func (r *Reconciler) RunPendingSync(ctx context.Context, who *Identity, online bool) (bool, error) {
	if who == nil || !online {
		return false, nil
	}
	if _, err := r.claimCache(ctx, *who, false); err != nil {
		return false, err
	}

	pending, err := r.local.PendingWrite(ctx)
	if err != nil {
		return false, storageError("reading pending flag", err)
	}
	if !pending {
		return false, nil
	}
	return r.replayCache(ctx, *who)
}

func (r *Reconciler) replayCache(ctx context.Context, who Identity) (bool, error) {
	pins, _, err := r.local.ReadPins(ctx, SlotSignedInCache)
	if err != nil {
		return false, storageError("reading signed-in cache", err)
	}

	if err := r.replaceRemote(ctx, who, pins); err != nil {
		r.logger.Warn("pending sync failed", "identity", who.ID, "error", err)
		return false, nil
	}
	if err := r.markSynced(ctx); err != nil {
		return false, err
	}

	r.logger.Info("pending pins synced", "identity", who.ID, "count", len(pins))
	return true, nil
}

// LastSyncAt returns when the signed-in cache was last confirmed consistent
// with the remote store.
func (r *Reconciler) LastSyncAt(ctx context.Context) (time.Time, bool, error) {
	t, ok, err := r.local.LastSyncAt(ctx)
	if err != nil {
		return time.Time{}, false, storageError("reading last sync", err)
	}
	return t, ok, nil
}

// PendingWrite reports whether signed-in changes are waiting to be replayed.
func (r *Reconciler) PendingWrite(ctx context.Context) (bool, error) {
	pending, err := r.local.PendingWrite(ctx)
	if err != nil {
		return false, storageError("reading pending flag", err)
	}
	return pending, nil
}

// LocalOnlyCount returns the number of anonymous pins a signed-in user could
// move into their account. It is always 0 for anonymous callers.
func (r *Reconciler) LocalOnlyCount(ctx context.Context, who *Identity) (int, error) {
	if who == nil {
		return 0, nil
	}
	pins, _, err := r.local.ReadPins(ctx, SlotAnonymous)
	if err != nil {
		return 0, storageError("reading anonymous slot", err)
	}
	return len(pins), nil
}

// MergeLocalPins moves the anonymous slot into who's remote collection.
//
// The remote collection wins every duplicate. On success the merged result
// becomes the cache and the anonymous slot is cleared. This destroys the
// anonymous slot, which on a shared device may belong to someone else, so
// it must only run after the user confirms.
func (r *Reconciler) MergeLocalPins(ctx context.Context, who *Identity) error {
	if who == nil {
		return ErrNotSignedIn
	}
	if _, err := r.claimCache(ctx, *who, false); err != nil {
		return err
	}

	local, _, err := r.local.ReadPins(ctx, SlotAnonymous)
	if err != nil {
		return storageError("reading anonymous slot", err)
	}
	if len(local) == 0 {
		return nil
	}

	pending, err := r.local.PendingWrite(ctx)
	if err != nil {
		return storageError("reading pending flag", err)
	}
	if pending {
		synced, err := r.replayCache(ctx, *who)
		if err != nil {
			return err
		}
		if !synced {
			return fmt.Errorf("replaying pending pins before merge: %w", ErrRemoteUnavailable)
		}
	}

	remotePins, err := r.fetchRemote(ctx, *who)
	if err != nil {
		return fmt.Errorf("fetching remote pins: %w", err)
	}

	merged := stripDisplay(MergePins(remotePins, local))
	if err := r.replaceRemote(ctx, *who, merged); err != nil {
		return fmt.Errorf("uploading merged pins: %w", err)
	}

	if err := r.local.WritePins(ctx, SlotSignedInCache, merged); err != nil {
		return storageError("writing signed-in cache", err)
	}
	if err := r.markSynced(ctx); err != nil {
		return err
	}
	if err := r.local.ClearPins(ctx, SlotAnonymous); err != nil {
		return storageError("clearing anonymous slot", err)
	}

	r.logger.Info("local pins merged into account", "identity", who.ID, "local", len(local), "total", len(merged))
	return nil
}

// CopyCacheToLocal snapshots the signed-in cache into the anonymous slot so
// the same pins stay visible after sign-out. The cache and the remote are
// left untouched. A cache that was never written copies nothing.
func (r *Reconciler) CopyCacheToLocal(ctx context.Context, who *Identity) error {
	if who == nil {
		return ErrNotSignedIn
	}
	if _, err := r.claimCache(ctx, *who, false); err != nil {
		return err
	}

	pins, found, err := r.local.ReadPins(ctx, SlotSignedInCache)
	if err != nil {
		return storageError("reading signed-in cache", err)
	}
	if !found {
		return nil
	}

	if err := r.local.WritePins(ctx, SlotAnonymous, pins); err != nil {
		return storageError("writing anonymous slot", err)
	}

	r.logger.Info("cache copied to device", "identity", who.ID, "count", len(pins))
	return nil
}

// ClearCache forgets the signed-in cache together with its pending flag,
// last sync time and owner, so a later identity on the same device starts
// clean. It reports whether a pending write was discarded.
func (r *Reconciler) ClearCache(ctx context.Context) (bool, error) {
	pending, err := r.local.PendingWrite(ctx)
	if err != nil {
		return false, storageError("reading pending flag", err)
	}
	if err := r.local.ClearPins(ctx, SlotSignedInCache); err != nil {
		return false, storageError("clearing signed-in cache", err)
	}
	if err := r.local.SetPendingWrite(ctx, false); err != nil {
		return false, storageError("clearing pending flag", err)
	}
	if err := r.local.ClearLastSyncAt(ctx); err != nil {
		return false, storageError("clearing last sync", err)
	}
	if err := r.local.SetCacheOwner(ctx, ""); err != nil {
		return false, storageError("clearing cache owner", err)
	}
	if pending {
		r.logger.Warn("signed-in cache cleared with unsynced changes")
	}
	return pending, nil
}

// ClaimCache makes who the owner of the signed-in cache. A cache left by
// another identity is dropped if it is fully synced. If it holds unsynced
// changes it is only dropped when discard is set; otherwise ErrCacheOwned is
// returned and nothing changes. The result reports whether unsynced changes
// were discarded.
func (r *Reconciler) ClaimCache(ctx context.Context, who *Identity, discard bool) (bool, error) {
	if who == nil {
		return false, ErrNotSignedIn
	}
	return r.claimCache(ctx, *who, discard)
}

func (r *Reconciler) claimCache(ctx context.Context, who Identity, discard bool) (bool, error) {
	owner, found, err := r.local.CacheOwner(ctx)
	if err != nil {
		return false, storageError("reading cache owner", err)
	}
	if found && owner == who.ID {
		return false, nil
	}

	discarded := false
	if found {
		pending, err := r.local.PendingWrite(ctx)
		if err != nil {
			return false, storageError("reading pending flag", err)
		}
		if pending && !discard {
			return false, fmt.Errorf("%w (account %s)", ErrCacheOwned, owner)
		}
		if discarded, err = r.ClearCache(ctx); err != nil {
			return false, err
		}
		r.logger.Info("dropped signed-in cache of another identity", "owner", owner, "identity", who.ID)
	}

	// An unowned cache predates ownership tracking or was just cleared.
	if err := r.local.SetCacheOwner(ctx, who.ID); err != nil {
		return false, storageError("recording cache owner", err)
	}
	return discarded, nil
}

func (r *Reconciler) fetchRemote(ctx context.Context, who Identity) ([]Pin, error) {
	if r.remote == nil {
		return nil, fmt.Errorf("%w: no remote store configured", ErrRemoteUnavailable)
	}
	pins, err := r.remote.FetchAll(ctx, who)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	return pins, nil
}

func (r *Reconciler) replaceRemote(ctx context.Context, who Identity, pins []Pin) error {
	if r.remote == nil {
		return fmt.Errorf("%w: no remote store configured", ErrRemoteUnavailable)
	}
	if err := r.remote.ReplaceAll(ctx, who, stripDisplay(pins)); err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	return nil
}

// markSynced stamps the last sync time and clears the pending flag.
func (r *Reconciler) markSynced(ctx context.Context) error {
	if err := r.local.SetLastSyncAt(ctx, r.clock.Now()); err != nil {
		return storageError("recording last sync", err)
	}
	if err := r.local.SetPendingWrite(ctx, false); err != nil {
		return storageError("clearing pending flag", err)
	}
	return nil
}

// annotate returns a copy of pins with display fields filled in. When force
// is false an existing owner label is kept.
func annotate(pins []Pin, label string, force bool, now time.Time) []Pin {
	out := make([]Pin, len(pins))
	for i, p := range pins {
		if force || p.OwnerLabel == "" {
			p.OwnerLabel = label
		}
		p.CreatedAt = FormatTimeAgo(p.Timestamp, now)
		out[i] = p
	}
	return out
}

// stripDisplay drops the read-time display fields before pins leave the device.
func stripDisplay(pins []Pin) []Pin {
	out := make([]Pin, len(pins))
	for i, p := range pins {
		p.OwnerLabel = ""
		p.CreatedAt = ""
		out[i] = p
	}
	return out
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
