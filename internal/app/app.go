package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"pinnit-go/internal/auth"
	"pinnit-go/internal/config"
	"pinnit-go/internal/database"
	"pinnit-go/internal/encryption"
	"pinnit-go/internal/network"
	"pinnit-go/internal/pinnit"
	"pinnit-go/internal/remote"
)

// ErrUnsyncedChanges is returned by SignOut when a pending write could not be
// pushed and the caller neither keeps a copy nor agrees to discard it.
var ErrUnsyncedChanges = errors.New("unsynced changes would be lost")

// Options configure a single CLI invocation.
type Options struct {
	// Operation names the command being run (e.g. "AddPin", "Sync").
	Operation string
	// Parameters are recorded with the operation in the history.
	Parameters string
	// Offline forces the offline branch regardless of connectivity.
	Offline bool
	// Passphrase unlocks a protected age key. Empty for unprotected keys.
	Passphrase string
}

// PinnitApp is the application layer between the CLI and the Reconciler.
// It constructs all dependencies from config, resolves the current identity
// and connectivity for every call, and manages resources on Close.
type PinnitApp struct {
	cfg         *config.Config
	store       *database.SQLiteStore
	remote      pinnit.RemoteStore
	observer    network.Observer
	sessions    *auth.Manager
	providerErr error
	reconciler  *pinnit.Reconciler
	logger      pinnit.Logger
	clock       pinnit.Clock
	op          *Operation
	logCloser   io.Closer
}

// SyncResult describes the outcome of Sync.
type SyncResult struct {
	Replayed   bool // a pending write was pushed
	Refreshed  bool // the cache was refreshed from the remote
	Pending    bool // a write is still waiting
	Count      int
	LastSyncAt time.Time
}

// Status is a snapshot of the device's sync state.
type Status struct {
	Identity   *pinnit.Identity
	Online     bool
	RemoteType string
	Pending    bool
	LastSyncAt time.Time
	HasSynced  bool
	LocalOnly  int
}

// NewPinnitApp creates a fully wired PinnitApp from the given config.
// The caller must call Close when done.
func NewPinnitApp(ctx context.Context, cfg *config.Config, opts Options) (*PinnitApp, error) {
	opID := uuid.NewString()[:8]
	slogger, logCloser, err := newLogger(cfg.Log, cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &PinnitApp{
		cfg:       cfg,
		logger:    logger,
		clock:     pinnit.RealClock{},
		op:        NewOperation(opts.Operation, opts.Parameters),
		logCloser: logCloser,
	}

	if err := a.init(ctx, opts); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *PinnitApp) init(ctx context.Context, opts Options) error {
	store, err := database.NewLocalStoreFromConfig(a.cfg.Local, a.cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("creating local store: %w", err)
	}
	a.store = store

	if err := store.CheckMigrations(); err != nil {
		return fmt.Errorf("local store schema out of date: %w", err)
	}

	sealer, err := encryption.NewSealerFromConfig(a.cfg.Encryption, opts.Passphrase)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	rem, err := remote.NewRemoteFromConfig(ctx, a.cfg.Remote, sealer)
	if err != nil {
		return fmt.Errorf("creating remote store: %w", err)
	}
	a.remote = rem

	if v, ok := rem.(interface{ ValidateSetup() error }); ok {
		if err := v.ValidateSetup(); err != nil {
			return err
		}
	}

	if opts.Offline {
		a.observer = network.NewStatic(false)
	} else {
		a.observer, err = network.NewObserverFromConfig(a.cfg.Network, a.cfg.Remote, a.logger)
		if err != nil {
			return fmt.Errorf("creating network observer: %w", err)
		}
	}

	// A missing provider only matters to SignIn; every other command works
	// with whatever session is already stored.
	provider, err := auth.NewProviderFromConfig(a.cfg.Auth, a.clock)
	if err != nil {
		a.providerErr = err
		provider = nil
	}
	a.sessions = auth.NewManager(store, provider, a.clock, a.logger)

	a.reconciler = pinnit.NewReconciler(store, rem, a.logger, a.clock, pinnit.UUIDGenerator{})
	return nil
}

// persistOperation records the operation in the local store, giving it an ID.
// This should only be called for mutating commands.
func (a *PinnitApp) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	rec, err := a.store.CreateSyncOperation(ctx, a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = rec.ID
	return nil
}

// resolve finds who is signed in and, for signed-in callers, whether the
// remote is reachable. Anonymous callers never touch the network.
func (a *PinnitApp) resolve(ctx context.Context) (*pinnit.Identity, bool, error) {
	who, err := a.sessions.Current(ctx)
	if err != nil {
		return nil, false, err
	}
	if who == nil {
		return nil, false, nil
	}
	return who, a.observer.Online(ctx), nil
}

// ListPins returns the pins visible to the current identity, newest first.
func (a *PinnitApp) ListPins(ctx context.Context) ([]pinnit.Pin, error) {
	who, online, err := a.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return a.reconciler.LoadPins(ctx, who, online)
}

// AddPin drops a new pin at the given coordinates.
func (a *PinnitApp) AddPin(ctx context.Context, name string, latitude, longitude float64) (pinnit.Pin, error) {
	if err := a.persistOperation(ctx); err != nil {
		return pinnit.Pin{}, err
	}
	who, online, err := a.resolve(ctx)
	if err != nil {
		return pinnit.Pin{}, a.op.Fail(err)
	}
	p, err := a.reconciler.AddPin(ctx, who, online, name, latitude, longitude)
	return p, a.op.Fail(err)
}

// RenamePin changes the name of an existing pin.
func (a *PinnitApp) RenamePin(ctx context.Context, id, name string) (pinnit.Pin, error) {
	if err := a.persistOperation(ctx); err != nil {
		return pinnit.Pin{}, err
	}
	who, online, err := a.resolve(ctx)
	if err != nil {
		return pinnit.Pin{}, a.op.Fail(err)
	}
	p, err := a.reconciler.RenamePin(ctx, who, online, id, name)
	return p, a.op.Fail(err)
}

// DeletePin permanently removes a pin.
func (a *PinnitApp) DeletePin(ctx context.Context, id string) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	who, online, err := a.resolve(ctx)
	if err != nil {
		return a.op.Fail(err)
	}
	return a.op.Fail(a.reconciler.DeletePin(ctx, who, online, id))
}

// Sync pushes any pending write and refreshes the cache from the remote.
func (a *PinnitApp) Sync(ctx context.Context) (*SyncResult, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}
	res, err := a.sync(ctx)
	return res, a.op.Fail(err)
}

func (a *PinnitApp) sync(ctx context.Context) (*SyncResult, error) {
	who, online, err := a.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if who == nil {
		return nil, pinnit.ErrNotSignedIn
	}
	if !online {
		return nil, fmt.Errorf("%w: offline", pinnit.ErrRemoteUnavailable)
	}

	before, _, err := a.reconciler.LastSyncAt(ctx)
	if err != nil {
		return nil, err
	}

	replayed, err := a.reconciler.RunPendingSync(ctx, who, online)
	if err != nil {
		return nil, err
	}

	pins, err := a.reconciler.LoadPins(ctx, who, online)
	if err != nil {
		return nil, err
	}

	pending, err := a.reconciler.PendingWrite(ctx)
	if err != nil {
		return nil, err
	}
	after, _, err := a.reconciler.LastSyncAt(ctx)
	if err != nil {
		return nil, err
	}

	return &SyncResult{
		Replayed:   replayed,
		Refreshed:  after.After(before),
		Pending:    pending,
		Count:      len(pins),
		LastSyncAt: after,
	}, nil
}

// Status reports identity, connectivity and sync state.
func (a *PinnitApp) Status(ctx context.Context) (*Status, error) {
	who, err := a.sessions.Current(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := a.reconciler.PendingWrite(ctx)
	if err != nil {
		return nil, err
	}
	last, ok, err := a.reconciler.LastSyncAt(ctx)
	if err != nil {
		return nil, err
	}
	localOnly, err := a.reconciler.LocalOnlyCount(ctx, who)
	if err != nil {
		return nil, err
	}

	return &Status{
		Identity:   who,
		Online:     a.observer.Online(ctx),
		RemoteType: a.cfg.Remote.Type,
		Pending:    pending,
		LastSyncAt: last,
		HasSynced:  ok,
		LocalOnly:  localOnly,
	}, nil
}

// LocalOnlyCount returns how many device pins could be moved into the
// signed-in account.
func (a *PinnitApp) LocalOnlyCount(ctx context.Context) (int, error) {
	who, err := a.sessions.Current(ctx)
	if err != nil {
		return 0, err
	}
	return a.reconciler.LocalOnlyCount(ctx, who)
}

// MergeLocal moves the device's anonymous pins into the signed-in account
// and returns how many were moved. The anonymous collection is destroyed,
// so callers must confirm with the user first.
func (a *PinnitApp) MergeLocal(ctx context.Context) (int, error) {
	if err := a.persistOperation(ctx); err != nil {
		return 0, err
	}
	n, err := a.mergeLocal(ctx)
	return n, a.op.Fail(err)
}

func (a *PinnitApp) mergeLocal(ctx context.Context) (int, error) {
	who, online, err := a.resolve(ctx)
	if err != nil {
		return 0, err
	}
	if who == nil {
		return 0, pinnit.ErrNotSignedIn
	}
	if !online {
		return 0, fmt.Errorf("%w: offline", pinnit.ErrRemoteUnavailable)
	}

	n, err := a.reconciler.LocalOnlyCount(ctx, who)
	if err != nil {
		return 0, err
	}
	if err := a.reconciler.MergeLocalPins(ctx, who); err != nil {
		return 0, err
	}
	return n, nil
}

// SignIn verifies credentials and stores the session. Signing in while
// another identity is signed in is refused.
//
// A signed-in cache left behind by another account, for example after its
// session expired, is dropped if fully synced. If it still holds unsynced
// changes the sign-in is rolled back with pinnit.ErrCacheOwned, unless
// discardUnsynced is set.
func (a *PinnitApp) SignIn(ctx context.Context, username, password string, discardUnsynced bool) (*pinnit.Identity, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}
	who, err := a.signIn(ctx, username, password, discardUnsynced)
	return who, a.op.Fail(err)
}

func (a *PinnitApp) signIn(ctx context.Context, username, password string, discardUnsynced bool) (*pinnit.Identity, error) {
	username = strings.TrimSpace(username)
	if err := auth.ValidateUsername(username); err != nil {
		return nil, err
	}

	current, err := a.sessions.Current(ctx)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, fmt.Errorf("already signed in as %s", current.Username)
	}

	if a.providerErr != nil {
		return nil, fmt.Errorf("configuring sign-in: %w", a.providerErr)
	}

	who, err := a.sessions.SignIn(ctx, username, password)
	if err != nil {
		return nil, err
	}

	discarded, err := a.reconciler.ClaimCache(ctx, who, discardUnsynced)
	if err != nil {
		if signOutErr := a.sessions.SignOut(ctx); signOutErr != nil {
			a.logger.Error("rolling back sign-in failed", "error", signOutErr)
		}
		return nil, err
	}
	if discarded {
		a.logger.Warn("discarded unsynced changes of another account", "identity", who.ID)
	}

	if a.observer.Online(ctx) {
		if _, err := a.reconciler.LoadPins(ctx, who, true); err != nil {
			a.logger.Warn("warming cache after sign-in failed", "error", err)
		}
	}
	return who, nil
}

// SignOut forgets the session. With keepCopy the signed-in pins stay on the
// device as anonymous pins. A write still pending after a last replay
// attempt fails the sign-out with ErrUnsyncedChanges, leaving session and
// cache untouched, unless keepCopy or discard is set. The return value
// reports whether a pending write was dropped from the signed-in cache.
func (a *PinnitApp) SignOut(ctx context.Context, keepCopy, discard bool) (bool, error) {
	if err := a.persistOperation(ctx); err != nil {
		return false, err
	}
	discarded, err := a.signOut(ctx, keepCopy, discard)
	return discarded, a.op.Fail(err)
}

func (a *PinnitApp) signOut(ctx context.Context, keepCopy, discard bool) (bool, error) {
	who, online, err := a.resolve(ctx)
	if err != nil {
		return false, err
	}
	if who == nil {
		return false, pinnit.ErrNotSignedIn
	}

	if _, err := a.reconciler.RunPendingSync(ctx, who, online); err != nil {
		return false, err
	}
	pending, err := a.reconciler.PendingWrite(ctx)
	if err != nil {
		return false, err
	}
	if pending && !keepCopy && !discard {
		return false, ErrUnsyncedChanges
	}
	if keepCopy {
		if err := a.reconciler.CopyCacheToLocal(ctx, who); err != nil {
			return false, err
		}
	}
	discarded, err := a.reconciler.ClearCache(ctx)
	if err != nil {
		return false, err
	}
	if err := a.sessions.SignOut(ctx); err != nil {
		return false, err
	}
	return discarded, nil
}

// History returns the most recent recorded operations.
func (a *PinnitApp) History(ctx context.Context, limit int) ([]*database.SyncOperation, error) {
	return a.store.ListSyncOperations(ctx, limit)
}

// Watch replays pending writes whenever connectivity is regained, until ctx
// is done. notify, if set, is called after every connectivity change.
func (a *PinnitApp) Watch(ctx context.Context, notify func(online, synced bool)) error {
	who, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}
	if who == nil {
		return pinnit.ErrNotSignedIn
	}

	onChange := func(online bool) {
		synced := false
		if online {
			ok, err := a.reconciler.RunPendingSync(ctx, who, true)
			if err != nil {
				a.logger.Error("pending sync failed", "error", err)
			}
			synced = ok
		}
		if notify != nil {
			notify(online, synced)
		}
	}

	cancel := a.observer.Subscribe(onChange)
	defer cancel()

	if runner, ok := a.observer.(interface{ Run(context.Context) }); ok {
		runner.Run(ctx)
		return nil
	}

	onChange(a.observer.Online(ctx))
	<-ctx.Done()
	return nil
}

// Close finalizes the operation record and releases all resources.
func (a *PinnitApp) Close() error {
	var firstErr error
	if a.op.Persisted() && a.store != nil {
		if err := a.store.FinishSyncOperation(context.Background(), a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}
	if err := a.closeResources(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *PinnitApp) closeResources() error {
	var errs []error
	if c, ok := a.remote.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing remote store: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing local store: %w", err))
		}
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return errors.Join(errs...)
}

// NeedsPassphrase reports whether opening the remote requires a passphrase.
func NeedsPassphrase(cfg *config.Config) (bool, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return false, err
	}
	return enc != nil && enc.IsConfigured() && enc.NeedsPassphrase(), nil
}

// SetupKeys generates the encryption key pair named in the config.
func SetupKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return err
	}
	if enc == nil {
		return fmt.Errorf("encryption is disabled (set [encryption] type = \"age\")")
	}
	if enc.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}
