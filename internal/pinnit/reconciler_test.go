package pinnit_test

import (
	"context"
	"errors"
	"testing"

	"pinnit-go/internal/database"
	"pinnit-go/internal/pinnit"
	"pinnit-go/internal/remote"
	"pinnit-go/internal/testutil"
)

type env struct {
	r      *pinnit.Reconciler
	local  *database.SQLiteStore
	remote *remote.MemoryRemote
	clock  *testutil.StubClock
}

func newEnv(t *testing.T) *env {
	t.Helper()

	local := testutil.NewTestLocalStore(t)
	rem := testutil.NewTestRemote()
	clock := testutil.FixedClock()

	return &env{
		r:      pinnit.NewReconciler(local, rem, pinnit.NewNopLogger(), clock, testutil.NewStubIDGenerator()),
		local:  local,
		remote: rem,
		clock:  clock,
	}
}

func (e *env) slot(t *testing.T, slot pinnit.Slot) ([]pinnit.Pin, bool) {
	t.Helper()
	pins, found, err := e.local.ReadPins(context.Background(), slot)
	if err != nil {
		t.Fatalf("ReadPins(%s) error = %v", slot, err)
	}
	return pins, found
}

func (e *env) pending(t *testing.T) bool {
	t.Helper()
	p, err := e.local.PendingWrite(context.Background())
	if err != nil {
		t.Fatalf("PendingWrite() error = %v", err)
	}
	return p
}

var errNetwork = errors.New("network unreachable")

func TestLoadPins_Anonymous(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.remote.Seed(testutil.Alice().ID, []pinnit.Pin{pin("remote", 999)})

	if err := e.r.SavePins(ctx, nil, true, []pinnit.Pin{pin("a", 100), pin("b", 200)}); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}

	for _, online := range []bool{true, false} {
		got, err := e.r.LoadPins(ctx, nil, online)
		if err != nil {
			t.Fatalf("LoadPins(online=%v) error = %v", online, err)
		}
		equalIDs(t, got, "b", "a")
		for _, p := range got {
			if p.OwnerLabel != pinnit.DeviceOwnerLabel {
				t.Errorf("OwnerLabel = %q, want %q", p.OwnerLabel, pinnit.DeviceOwnerLabel)
			}
			if p.CreatedAt == "" {
				t.Errorf("CreatedAt not set on %s", p.ID)
			}
		}
	}

	if e.remote.Calls("fetch") != 0 || e.remote.Calls("replace") != 0 {
		t.Error("anonymous operations touched the remote store")
	}
}

func TestLoadPins_EmptyStore(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	got, err := e.r.LoadPins(ctx, nil, false)
	if err != nil {
		t.Fatalf("LoadPins() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("LoadPins() = %v, want empty non-nil slice", got)
	}

	got, err = e.r.LoadPins(ctx, testutil.Alice(), false)
	if err != nil {
		t.Fatalf("LoadPins(signed in) error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadPins(signed in) = %v, want empty", got)
	}
}

func TestLoadPins_SignedInOnlineRefreshesCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()

	e.remote.Seed(alice.ID, []pinnit.Pin{pin("r1", 10), pin("r2", 20)})
	if err := e.local.WritePins(ctx, pinnit.SlotSignedInCache, []pinnit.Pin{pin("stale", 5)}); err != nil {
		t.Fatalf("WritePins() error = %v", err)
	}

	got, err := e.r.LoadPins(ctx, alice, true)
	if err != nil {
		t.Fatalf("LoadPins() error = %v", err)
	}
	equalIDs(t, got, "r2", "r1")
	for _, p := range got {
		if p.OwnerLabel != "Alice" {
			t.Errorf("OwnerLabel = %q, want Alice", p.OwnerLabel)
		}
	}

	cache, _ := e.slot(t, pinnit.SlotSignedInCache)
	equalIDs(t, cache, "r2", "r1")

	last, ok, err := e.r.LastSyncAt(ctx)
	if err != nil {
		t.Fatalf("LastSyncAt() error = %v", err)
	}
	if !ok || !last.Equal(e.clock.Now()) {
		t.Errorf("LastSyncAt() = %v, %v, want %v", last, ok, e.clock.Now())
	}
}

func TestLoadPins_SignedInFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	alice := testutil.Alice()

	tests := []struct {
		name   string
		online bool
		fail   error
	}{
		{name: "offline", online: false},
		{name: "remote failure", online: true, fail: errNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.remote.Seed(alice.ID, []pinnit.Pin{pin("remote", 50)})
			e.remote.FailFetch(tt.fail)
			if err := e.local.WritePins(ctx, pinnit.SlotSignedInCache, []pinnit.Pin{pin("old", 1), pin("new", 2)}); err != nil {
				t.Fatalf("WritePins() error = %v", err)
			}

			got, err := e.r.LoadPins(ctx, alice, tt.online)
			if err != nil {
				t.Fatalf("LoadPins() error = %v", err)
			}
			equalIDs(t, got, "new", "old")

			if _, ok, _ := e.r.LastSyncAt(ctx); ok {
				t.Error("fallback read stamped last sync")
			}
			if rows := e.remote.Rows(alice.ID); len(rows) != 1 {
				t.Errorf("fallback read mutated remote: %v", ids(rows))
			}
		})
	}
}

func TestLoadPins_DoesNotMergeAnonymousPins(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()

	if err := e.r.SavePins(ctx, nil, true, []pinnit.Pin{pin("anon", 100)}); err != nil {
		t.Fatalf("SavePins(anonymous) error = %v", err)
	}
	e.remote.Seed(alice.ID, []pinnit.Pin{pin("mine", 10)})

	for _, online := range []bool{true, false} {
		got, err := e.r.LoadPins(ctx, alice, online)
		if err != nil {
			t.Fatalf("LoadPins(online=%v) error = %v", online, err)
		}
		equalIDs(t, got, "mine")
	}

	count, err := e.r.LocalOnlyCount(ctx, alice)
	if err != nil {
		t.Fatalf("LocalOnlyCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("LocalOnlyCount() = %d, want 1", count)
	}
}

func TestLoadPins_ReplaysPendingBeforeFetch(t *testing.T) {
	ctx := context.Background()
	alice := testutil.Alice()

	t.Run("replay succeeds", func(t *testing.T) {
		e := newEnv(t)
		e.remote.Seed(alice.ID, []pinnit.Pin{pin("old-remote", 1)})

		if err := e.r.SavePins(ctx, alice, false, []pinnit.Pin{pin("offline", 300)}); err != nil {
			t.Fatalf("SavePins() error = %v", err)
		}

		got, err := e.r.LoadPins(ctx, alice, true)
		if err != nil {
			t.Fatalf("LoadPins() error = %v", err)
		}
		equalIDs(t, got, "offline")
		equalIDs(t, e.remote.Rows(alice.ID), "offline")
		if e.pending(t) {
			t.Error("pending flag still set after replay")
		}
	})

	t.Run("replay fails", func(t *testing.T) {
		e := newEnv(t)
		e.remote.Seed(alice.ID, []pinnit.Pin{pin("old-remote", 1)})

		if err := e.r.SavePins(ctx, alice, false, []pinnit.Pin{pin("offline", 300)}); err != nil {
			t.Fatalf("SavePins() error = %v", err)
		}
		e.remote.FailDelete(errNetwork)

		got, err := e.r.LoadPins(ctx, alice, true)
		if err != nil {
			t.Fatalf("LoadPins() error = %v", err)
		}
		equalIDs(t, got, "offline")
		if e.remote.Calls("fetch") != 0 {
			t.Error("LoadPins fetched while a write was still pending")
		}
		if !e.pending(t) {
			t.Error("pending flag cleared after failed replay")
		}
		cache, _ := e.slot(t, pinnit.SlotSignedInCache)
		equalIDs(t, cache, "offline")
	})
}

func TestSavePins_SignedInOnline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()

	annotated := []pinnit.Pin{pin("a", 1), pin("b", 2)}
	annotated[0].OwnerLabel = "Alice"
	annotated[0].CreatedAt = "Pinned just now"

	if err := e.r.SavePins(ctx, alice, true, annotated); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}

	rows := e.remote.Rows(alice.ID)
	equalIDs(t, rows, "b", "a")
	for _, p := range rows {
		if p.OwnerLabel != "" || p.CreatedAt != "" {
			t.Errorf("remote row %s carries display fields", p.ID)
		}
	}

	cache, _ := e.slot(t, pinnit.SlotSignedInCache)
	equalIDs(t, cache, "b", "a")
	if e.pending(t) {
		t.Error("pending flag set after successful save")
	}
	if _, ok, _ := e.r.LastSyncAt(ctx); !ok {
		t.Error("last sync not stamped")
	}
}

func TestSavePins_RemoteFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	alice := testutil.Alice()

	tests := []struct {
		name         string
		inject       func(*remote.MemoryRemote)
		wantRemote   []string
		withoutStore bool
	}{
		{
			name:       "delete phase fails",
			inject:     func(m *remote.MemoryRemote) { m.FailDelete(errNetwork) },
			wantRemote: []string{"before"},
		},
		{
			name:       "insert phase fails",
			inject:     func(m *remote.MemoryRemote) { m.FailInsert(errNetwork) },
			wantRemote: []string{},
		},
		{
			name:         "no remote configured",
			withoutStore: true,
			wantRemote:   []string{"before"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.remote.Seed(alice.ID, []pinnit.Pin{pin("before", 1)})
			r := e.r
			if tt.withoutStore {
				r = pinnit.NewReconciler(e.local, nil, pinnit.NewNopLogger(), e.clock, testutil.NewStubIDGenerator())
			} else {
				tt.inject(e.remote)
			}

			if err := r.SavePins(ctx, alice, true, []pinnit.Pin{pin("after", 2)}); err != nil {
				t.Fatalf("SavePins() error = %v, want remote failure absorbed", err)
			}

			equalIDs(t, e.remote.Rows(alice.ID), tt.wantRemote...)
			cache, _ := e.slot(t, pinnit.SlotSignedInCache)
			equalIDs(t, cache, "after")
			if !e.pending(t) {
				t.Error("pending flag not set after failed remote write")
			}
		})
	}
}

func TestRunPendingSync(t *testing.T) {
	ctx := context.Background()
	alice := testutil.Alice()

	t.Run("nothing to do", func(t *testing.T) {
		e := newEnv(t)
		for _, tc := range []struct {
			who    *pinnit.Identity
			online bool
		}{{nil, true}, {alice, false}, {alice, true}} {
			ran, err := e.r.RunPendingSync(ctx, tc.who, tc.online)
			if err != nil || ran {
				t.Errorf("RunPendingSync(%v, %v) = %v, %v", tc.who, tc.online, ran, err)
			}
		}
		if e.remote.Calls("replace") != 0 {
			t.Error("RunPendingSync called the remote without a pending write")
		}
	})

	t.Run("failure keeps flag", func(t *testing.T) {
		e := newEnv(t)
		if err := e.r.SavePins(ctx, alice, false, []pinnit.Pin{pin("x", 1)}); err != nil {
			t.Fatalf("SavePins() error = %v", err)
		}
		e.remote.FailInsert(errNetwork)

		ran, err := e.r.RunPendingSync(ctx, alice, true)
		if err != nil {
			t.Fatalf("RunPendingSync() error = %v", err)
		}
		if ran {
			t.Error("RunPendingSync() = true on failure")
		}
		if !e.pending(t) {
			t.Error("pending flag cleared on failure")
		}

		e.remote.FailInsert(nil)
		ran, err = e.r.RunPendingSync(ctx, alice, true)
		if err != nil || !ran {
			t.Fatalf("RunPendingSync() retry = %v, %v", ran, err)
		}
		equalIDs(t, e.remote.Rows(alice.ID), "x")
	})
}

func TestMergeLocalPins(t *testing.T) {
	ctx := context.Background()
	alice := testutil.Alice()

	t.Run("requires sign-in", func(t *testing.T) {
		e := newEnv(t)
		if err := e.r.MergeLocalPins(ctx, nil); !errors.Is(err, pinnit.ErrNotSignedIn) {
			t.Errorf("MergeLocalPins(nil) error = %v, want ErrNotSignedIn", err)
		}
	})

	t.Run("empty anonymous slot is a no-op", func(t *testing.T) {
		e := newEnv(t)
		e.remote.Seed(alice.ID, []pinnit.Pin{pin("r", 1)})
		if err := e.r.MergeLocalPins(ctx, alice); err != nil {
			t.Fatalf("MergeLocalPins() error = %v", err)
		}
		if e.remote.Calls("fetch") != 0 || e.remote.Calls("replace") != 0 {
			t.Error("no-op merge touched the remote")
		}
	})

	t.Run("fetch failure aborts", func(t *testing.T) {
		e := newEnv(t)
		e.remote.Seed(alice.ID, []pinnit.Pin{pin("r", 1)})
		if err := e.r.SavePins(ctx, nil, false, []pinnit.Pin{pin("local", 5)}); err != nil {
			t.Fatalf("SavePins() error = %v", err)
		}
		e.remote.FailFetch(errNetwork)

		err := e.r.MergeLocalPins(ctx, alice)
		if !errors.Is(err, pinnit.ErrRemoteUnavailable) {
			t.Fatalf("MergeLocalPins() error = %v, want ErrRemoteUnavailable", err)
		}
		anon, _ := e.slot(t, pinnit.SlotAnonymous)
		equalIDs(t, anon, "local")
		equalIDs(t, e.remote.Rows(alice.ID), "r")
		if e.remote.Calls("replace") != 0 {
			t.Error("aborted merge wrote to the remote")
		}
	})

	t.Run("upload failure keeps anonymous slot", func(t *testing.T) {
		e := newEnv(t)
		if err := e.r.SavePins(ctx, nil, false, []pinnit.Pin{pin("local", 5)}); err != nil {
			t.Fatalf("SavePins() error = %v", err)
		}
		e.remote.FailDelete(errNetwork)

		if err := e.r.MergeLocalPins(ctx, alice); !errors.Is(err, pinnit.ErrRemoteUnavailable) {
			t.Fatalf("MergeLocalPins() error = %v, want ErrRemoteUnavailable", err)
		}
		anon, _ := e.slot(t, pinnit.SlotAnonymous)
		equalIDs(t, anon, "local")
	})

	t.Run("pending write is replayed first", func(t *testing.T) {
		e := newEnv(t)
		if err := e.r.SavePins(ctx, alice, false, []pinnit.Pin{pin("offline", 50)}); err != nil {
			t.Fatalf("SavePins(alice) error = %v", err)
		}
		if err := e.r.SavePins(ctx, nil, false, []pinnit.Pin{pin("local", 5)}); err != nil {
			t.Fatalf("SavePins(anonymous) error = %v", err)
		}

		if err := e.r.MergeLocalPins(ctx, alice); err != nil {
			t.Fatalf("MergeLocalPins() error = %v", err)
		}
		equalIDs(t, e.remote.Rows(alice.ID), "offline", "local")
	})
}

func TestCopyCacheToLocal(t *testing.T) {
	ctx := context.Background()
	alice := testutil.Alice()

	t.Run("requires sign-in", func(t *testing.T) {
		e := newEnv(t)
		if err := e.r.CopyCacheToLocal(ctx, nil); !errors.Is(err, pinnit.ErrNotSignedIn) {
			t.Errorf("CopyCacheToLocal(nil) error = %v, want ErrNotSignedIn", err)
		}
	})

	t.Run("unwritten cache copies nothing", func(t *testing.T) {
		e := newEnv(t)
		if err := e.r.SavePins(ctx, nil, false, []pinnit.Pin{pin("mine", 1)}); err != nil {
			t.Fatalf("SavePins() error = %v", err)
		}
		if err := e.r.CopyCacheToLocal(ctx, alice); err != nil {
			t.Fatalf("CopyCacheToLocal() error = %v", err)
		}
		anon, _ := e.slot(t, pinnit.SlotAnonymous)
		equalIDs(t, anon, "mine")
	})

	t.Run("snapshot", func(t *testing.T) {
		e := newEnv(t)
		e.remote.Seed(alice.ID, []pinnit.Pin{pin("r1", 1), pin("r2", 2)})
		if _, err := e.r.LoadPins(ctx, alice, true); err != nil {
			t.Fatalf("LoadPins() error = %v", err)
		}

		if err := e.r.CopyCacheToLocal(ctx, alice); err != nil {
			t.Fatalf("CopyCacheToLocal() error = %v", err)
		}

		anon, _ := e.slot(t, pinnit.SlotAnonymous)
		equalIDs(t, anon, "r2", "r1")
		cache, _ := e.slot(t, pinnit.SlotSignedInCache)
		equalIDs(t, cache, "r2", "r1")
		equalIDs(t, e.remote.Rows(alice.ID), "r1", "r2")
		if e.remote.Calls("replace") != 0 {
			t.Error("CopyCacheToLocal wrote to the remote")
		}

		got, err := e.r.LoadPins(ctx, nil, false)
		if err != nil {
			t.Fatalf("LoadPins(anonymous) error = %v", err)
		}
		equalIDs(t, got, "r2", "r1")
	})
}

func TestLocalOnlyCount_Anonymous(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	if err := e.r.SavePins(ctx, nil, false, []pinnit.Pin{pin("a", 1), pin("b", 2)}); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}

	count, err := e.r.LocalOnlyCount(ctx, nil)
	if err != nil {
		t.Fatalf("LocalOnlyCount() error = %v", err)
	}
	if count != 0 {
		t.Errorf("LocalOnlyCount(nil) = %d, want 0", count)
	}
}

func TestStorageFailuresAreReturned(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()
	e.local.Close()

	if _, err := e.r.LoadPins(ctx, nil, false); !errors.Is(err, pinnit.ErrStorage) {
		t.Errorf("LoadPins() error = %v, want ErrStorage", err)
	}
	if err := e.r.SavePins(ctx, alice, true, []pinnit.Pin{pin("a", 1)}); !errors.Is(err, pinnit.ErrStorage) {
		t.Errorf("SavePins() error = %v, want ErrStorage", err)
	}
	if _, err := e.r.RunPendingSync(ctx, alice, true); !errors.Is(err, pinnit.ErrStorage) {
		t.Errorf("RunPendingSync() error = %v, want ErrStorage", err)
	}
	if _, err := e.r.LocalOnlyCount(ctx, alice); !errors.Is(err, pinnit.ErrStorage) {
		t.Errorf("LocalOnlyCount() error = %v, want ErrStorage", err)
	}
	if e.remote.Calls("replace") != 0 {
		t.Error("remote written despite local storage failure")
	}
}

// Properties

func TestProperty_SortInvariant(t *testing.T) {
	ctx := context.Background()
	collections := [][]pinnit.Pin{
		{pin("a", 5), pin("b", 1), pin("c", 9), pin("d", 3)},
		{pin("a", 1), pin("b", 1), pin("c", 1)},
		{pin("a", 100)},
		{},
	}

	for _, who := range []*pinnit.Identity{nil, testutil.Alice()} {
		for _, online := range []bool{true, false} {
			for _, c := range collections {
				e := newEnv(t)
				if err := e.r.SavePins(ctx, who, online, c); err != nil {
					t.Fatalf("SavePins() error = %v", err)
				}

				slot := pinnit.SlotAnonymous
				if who != nil {
					slot = pinnit.SlotSignedInCache
				}
				stored, _ := e.slot(t, slot)
				assertSorted(t, stored)

				got, err := e.r.LoadPins(ctx, who, online)
				if err != nil {
					t.Fatalf("LoadPins() error = %v", err)
				}
				assertSorted(t, got)
				if len(got) != len(c) {
					t.Errorf("LoadPins() returned %d pins, want %d", len(got), len(c))
				}
			}
		}
	}
}

func TestProperty_IdentityIsolation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()

	if _, err := e.r.AddPin(ctx, nil, true, "Secret spot", 1, 2); err != nil {
		t.Fatalf("AddPin() error = %v", err)
	}

	for _, online := range []bool{true, false} {
		got, err := e.r.LoadPins(ctx, alice, online)
		if err != nil {
			t.Fatalf("LoadPins() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("signed-in read (online=%v) saw anonymous pins: %v", online, ids(got))
		}
	}
	if rows := e.remote.Rows(alice.ID); len(rows) != 0 {
		t.Errorf("anonymous write reached the remote: %v", ids(rows))
	}
}

func TestProperty_OfflineDurability(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()

	want := []pinnit.Pin{pin("x", 30), pin("y", 20)}
	if err := e.r.SavePins(ctx, alice, false, want); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}

	if !e.pending(t) {
		t.Error("pending flag not set")
	}
	cache, _ := e.slot(t, pinnit.SlotSignedInCache)
	equalIDs(t, cache, "x", "y")

	got, err := e.r.LoadPins(ctx, alice, false)
	if err != nil {
		t.Fatalf("LoadPins() error = %v", err)
	}
	equalIDs(t, got, "x", "y")
	if e.remote.Calls("replace") != 0 || e.remote.Calls("fetch") != 0 {
		t.Error("offline operations touched the remote")
	}
}

func TestProperty_ReplayConvergence(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()

	cache := []pinnit.Pin{pin("c1", 3), pin("c2", 2), pin("c3", 1)}
	if err := e.local.WritePins(ctx, pinnit.SlotSignedInCache, cache); err != nil {
		t.Fatalf("WritePins() error = %v", err)
	}
	if err := e.local.SetPendingWrite(ctx, true); err != nil {
		t.Fatalf("SetPendingWrite() error = %v", err)
	}
	e.remote.Seed(alice.ID, []pinnit.Pin{pin("stale", 99)})

	ran, err := e.r.RunPendingSync(ctx, alice, true)
	if err != nil || !ran {
		t.Fatalf("RunPendingSync() = %v, %v", ran, err)
	}

	equalIDs(t, e.remote.Rows(alice.ID), "c1", "c2", "c3")
	if e.pending(t) {
		t.Error("pending flag still set")
	}
}

func TestProperty_MigrationDestructiveness(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()

	shared := pin("remote-shared", 40)
	localCopy := shared
	localCopy.ID = "local-shared"

	e.remote.Seed(alice.ID, []pinnit.Pin{pin("r1", 10), shared})
	if err := e.r.SavePins(ctx, nil, false, []pinnit.Pin{pin("l1", 50), localCopy, pin("l2", 5)}); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}

	if err := e.r.MergeLocalPins(ctx, alice); err != nil {
		t.Fatalf("MergeLocalPins() error = %v", err)
	}

	rows := e.remote.Rows(alice.ID)
	equalIDs(t, rows, "l1", "remote-shared", "r1", "l2")
	for _, p := range rows {
		if p.OwnerLabel != "" || p.CreatedAt != "" {
			t.Errorf("merged row %s carries display fields", p.ID)
		}
	}

	anon, _ := e.slot(t, pinnit.SlotAnonymous)
	if len(anon) != 0 {
		t.Errorf("anonymous slot = %v, want empty", ids(anon))
	}
	cache, _ := e.slot(t, pinnit.SlotSignedInCache)
	equalIDs(t, cache, "l1", "remote-shared", "r1", "l2")
	if e.pending(t) {
		t.Error("pending flag set after merge")
	}
}

// Scenarios

func TestScenario_AnonymousPinsTwoLocations(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	if err := e.r.SavePins(ctx, nil, true, []pinnit.Pin{pin("p100", 100)}); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}
	existing, err := e.r.LoadPins(ctx, nil, true)
	if err != nil {
		t.Fatalf("LoadPins() error = %v", err)
	}
	if err := e.r.SavePins(ctx, nil, true, append([]pinnit.Pin{pin("p200", 200)}, existing...)); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}

	got, err := e.r.LoadPins(ctx, nil, true)
	if err != nil {
		t.Fatalf("LoadPins() error = %v", err)
	}
	equalIDs(t, got, "p200", "p100")
}

func TestScenario_SignedInDeleteLastPin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()
	e.remote.Seed(alice.ID, []pinnit.Pin{pin("p50", 50)})

	if err := e.r.SavePins(ctx, alice, true, []pinnit.Pin{}); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}

	if rows := e.remote.Rows(alice.ID); len(rows) != 0 {
		t.Errorf("remote = %v, want empty", ids(rows))
	}
	cache, found := e.slot(t, pinnit.SlotSignedInCache)
	if !found || len(cache) != 0 {
		t.Errorf("cache = %v (found=%v), want written and empty", ids(cache), found)
	}
	if e.pending(t) {
		t.Error("pending flag set")
	}
}

func TestScenario_OfflineAddThenReconnect(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()
	e.remote.Seed(alice.ID, []pinnit.Pin{pin("p100", 100)})

	if _, err := e.r.LoadPins(ctx, alice, true); err != nil {
		t.Fatalf("LoadPins() error = %v", err)
	}

	offline, err := e.r.LoadPins(ctx, alice, false)
	if err != nil {
		t.Fatalf("LoadPins() error = %v", err)
	}
	if err := e.r.SavePins(ctx, alice, false, append([]pinnit.Pin{pin("p300", 300)}, offline...)); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}

	cache, _ := e.slot(t, pinnit.SlotSignedInCache)
	equalIDs(t, cache, "p300", "p100")
	if !e.pending(t) {
		t.Error("pending flag not set while offline")
	}

	got, err := e.r.LoadPins(ctx, alice, false)
	if err != nil {
		t.Fatalf("LoadPins() error = %v", err)
	}
	equalIDs(t, got, "p300", "p100")

	ran, err := e.r.RunPendingSync(ctx, alice, true)
	if err != nil || !ran {
		t.Fatalf("RunPendingSync() = %v, %v", ran, err)
	}
	equalIDs(t, e.remote.Rows(alice.ID), "p300", "p100")
	if e.pending(t) {
		t.Error("pending flag still set after reconnect")
	}
}

func TestScenario_MergeAfterSignIn(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()

	if err := e.r.SavePins(ctx, nil, true, []pinnit.Pin{pin("pinA", 10)}); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}

	count, err := e.r.LocalOnlyCount(ctx, alice)
	if err != nil {
		t.Fatalf("LocalOnlyCount() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("LocalOnlyCount() = %d, want 1", count)
	}

	if err := e.r.MergeLocalPins(ctx, alice); err != nil {
		t.Fatalf("MergeLocalPins() error = %v", err)
	}

	equalIDs(t, e.remote.Rows(alice.ID), "pinA")
	anon, _ := e.slot(t, pinnit.SlotAnonymous)
	if len(anon) != 0 {
		t.Errorf("anonymous slot = %v, want empty", ids(anon))
	}
}

func TestClearCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := testutil.Alice()

	if err := e.r.SavePins(ctx, alice, true, []pinnit.Pin{pin("synced", 1)}); err != nil {
		t.Fatalf("SavePins(online) error = %v", err)
	}
	if err := e.r.SavePins(ctx, alice, false, []pinnit.Pin{pin("unsynced", 1)}); err != nil {
		t.Fatalf("SavePins() error = %v", err)
	}
	if err := e.r.SavePins(ctx, nil, false, []pinnit.Pin{pin("device", 2)}); err != nil {
		t.Fatalf("SavePins(anonymous) error = %v", err)
	}

	discarded, err := e.r.ClearCache(ctx)
	if err != nil {
		t.Fatalf("ClearCache() error = %v", err)
	}
	if !discarded {
		t.Error("ClearCache() did not report the discarded pending write")
	}
	if _, found := e.slot(t, pinnit.SlotSignedInCache); found {
		t.Error("signed-in cache still present")
	}
	if e.pending(t) {
		t.Error("pending flag still set")
	}
	if _, ok, err := e.r.LastSyncAt(ctx); err != nil || ok {
		t.Errorf("LastSyncAt() ok = %v, err = %v, want unset", ok, err)
	}
	if _, ok, err := e.local.CacheOwner(ctx); err != nil || ok {
		t.Errorf("CacheOwner() ok = %v, err = %v, want unset", ok, err)
	}
	anon, _ := e.slot(t, pinnit.SlotAnonymous)
	equalIDs(t, anon, "device")

	bob := testutil.Bob()
	if _, err := e.r.LoadPins(ctx, bob, true); err != nil {
		t.Fatalf("LoadPins(bob) error = %v", err)
	}
	if rows := e.remote.Rows(bob.ID); len(rows) != 0 {
		t.Errorf("previous identity's cache replayed into bob's account: %v", ids(rows))
	}
}

func TestCacheOwnership_UnsyncedCacheOfAnotherIdentity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob := testutil.Alice(), testutil.Bob()
	e.remote.Seed(bob.ID, []pinnit.Pin{pin("bob-home", 5)})

	// Alice's session ends without a sign-out while her edit is pending.
	if err := e.r.SavePins(ctx, alice, false, []pinnit.Pin{pin("alice-unsynced", 1)}); err != nil {
		t.Fatalf("SavePins(alice) error = %v", err)
	}

	for _, online := range []bool{true, false} {
		if _, err := e.r.LoadPins(ctx, bob, online); !errors.Is(err, pinnit.ErrCacheOwned) {
			t.Errorf("LoadPins(bob, online=%v) error = %v, want ErrCacheOwned", online, err)
		}
	}
	if err := e.r.SavePins(ctx, bob, true, []pinnit.Pin{pin("bob-new", 6)}); !errors.Is(err, pinnit.ErrCacheOwned) {
		t.Errorf("SavePins(bob) error = %v, want ErrCacheOwned", err)
	}
	if _, err := e.r.RunPendingSync(ctx, bob, true); !errors.Is(err, pinnit.ErrCacheOwned) {
		t.Errorf("RunPendingSync(bob) error = %v, want ErrCacheOwned", err)
	}
	if err := e.r.CopyCacheToLocal(ctx, bob); !errors.Is(err, pinnit.ErrCacheOwned) {
		t.Errorf("CopyCacheToLocal(bob) error = %v, want ErrCacheOwned", err)
	}

	equalIDs(t, e.remote.Rows(bob.ID), "bob-home")
	if !e.pending(t) {
		t.Fatal("alice's pending write was dropped")
	}

	// Alice can still push her edit.
	got, err := e.r.LoadPins(ctx, alice, true)
	if err != nil {
		t.Fatalf("LoadPins(alice) error = %v", err)
	}
	equalIDs(t, got, "alice-unsynced")
	equalIDs(t, e.remote.Rows(alice.ID), "alice-unsynced")
	equalIDs(t, e.remote.Rows(bob.ID), "bob-home")
}

func TestCacheOwnership_SyncedCacheIsDropped(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob := testutil.Alice(), testutil.Bob()
	e.remote.Seed(alice.ID, []pinnit.Pin{pin("alice-home", 1)})
	e.remote.Seed(bob.ID, []pinnit.Pin{pin("bob-home", 2)})

	if _, err := e.r.LoadPins(ctx, alice, true); err != nil {
		t.Fatalf("LoadPins(alice) error = %v", err)
	}

	got, err := e.r.LoadPins(ctx, bob, false)
	if err != nil {
		t.Fatalf("LoadPins(bob, offline) error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("bob was served alice's cache: %v", ids(got))
	}
	if _, ok, _ := e.r.LastSyncAt(ctx); ok {
		t.Error("bob inherited alice's last sync time")
	}

	got, err = e.r.LoadPins(ctx, bob, true)
	if err != nil {
		t.Fatalf("LoadPins(bob, online) error = %v", err)
	}
	equalIDs(t, got, "bob-home")
	equalIDs(t, e.remote.Rows(alice.ID), "alice-home")
}

func TestClaimCache(t *testing.T) {
	ctx := context.Background()
	alice, bob := testutil.Alice(), testutil.Bob()

	tests := []struct {
		name          string
		seedPending   bool
		who           *pinnit.Identity
		discard       bool
		wantErr       error
		wantDiscarded bool
		wantCache     bool
	}{
		{name: "anonymous", who: nil, wantErr: pinnit.ErrNotSignedIn, wantCache: true},
		{name: "same owner", who: alice, seedPending: true, wantCache: true},
		{name: "other owner, synced", who: bob},
		{name: "other owner, pending", who: bob, seedPending: true, wantErr: pinnit.ErrCacheOwned, wantCache: true},
		{name: "other owner, pending, discard", who: bob, seedPending: true, discard: true, wantDiscarded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			if err := e.r.SavePins(ctx, alice, !tt.seedPending, []pinnit.Pin{pin("alice-pin", 1)}); err != nil {
				t.Fatalf("SavePins(alice) error = %v", err)
			}

			discarded, err := e.r.ClaimCache(ctx, tt.who, tt.discard)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ClaimCache() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("ClaimCache() error = %v", err)
			}
			if discarded != tt.wantDiscarded {
				t.Errorf("ClaimCache() discarded = %v, want %v", discarded, tt.wantDiscarded)
			}
			if _, found := e.slot(t, pinnit.SlotSignedInCache); found != tt.wantCache {
				t.Errorf("signed-in cache present = %v, want %v", found, tt.wantCache)
			}
			if tt.wantErr == nil && tt.who != nil {
				owner, _, err := e.local.CacheOwner(ctx)
				if err != nil {
					t.Fatalf("CacheOwner() error = %v", err)
				}
				if owner != tt.who.ID {
					t.Errorf("CacheOwner() = %q, want %q", owner, tt.who.ID)
				}
			}
		})
	}
}
