package state

import (
	"context"
	"testing"
	"time"

	"github.com/groundwork-io/groundctl/pkg/errors"
	"github.com/groundwork-io/groundctl/pkg/state/backend/local"
	"github.com/groundwork-io/groundctl/pkg/state/types"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()
	b, err := local.NewBackend(map[string]string{"path": t.TempDir()})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return NewManager(b)
}

func TestReadSnapshotMissingYieldsEmpty(t *testing.T) {
	m := newTestManager(t)

	snap, digest, err := m.ReadSnapshot(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snap.Serial != 0 || len(snap.Resources) != 0 {
		t.Errorf("empty snapshot: serial=%d resources=%d", snap.Serial, len(snap.Resources))
	}
	if digest != snap.Digest() {
		t.Error("digest does not match snapshot content")
	}
}

func TestWriteSnapshotRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	snap, digest, err := m.ReadSnapshot(ctx, "test")
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}

	snap.Put(&types.ResourceRecord{
		Module: "net", Template: "vpc", Index: 0, Kind: "network",
		Attributes: map[string]interface{}{"cidr": "10.0.0.0/16"},
	})

	newDigest, err := m.WriteSnapshot(ctx, "test", snap, digest)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	got, gotDigest, err := m.ReadSnapshot(ctx, "test")
	if err != nil {
		t.Fatalf("ReadSnapshot after write: %v", err)
	}
	if gotDigest != newDigest {
		t.Errorf("digest after write: got %q, want %q", gotDigest, newDigest)
	}
	record := got.Resources["net/vpc[0]"]
	if record == nil {
		t.Fatal("record missing after round trip")
	}
	if record.Attributes["cidr"] != "10.0.0.0/16" {
		t.Errorf("attribute after round trip: got %v", record.Attributes["cidr"])
	}
}

func TestWriteSnapshotRejectsStaleDigest(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	snap, digest, _ := m.ReadSnapshot(ctx, "test")
	snap.Put(&types.ResourceRecord{Module: "m", Template: "a", Index: 0, Kind: "thing"})
	if _, err := m.WriteSnapshot(ctx, "test", snap, digest); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// A second writer still holding the original digest must be refused.
	stale := types.NewSnapshot("test")
	stale.Put(&types.ResourceRecord{Module: "m", Template: "b", Index: 0, Kind: "thing"})
	_, err := m.WriteSnapshot(ctx, "test", stale, digest)
	if !errors.Is(err, errors.ErrCodeStaleWrite) {
		t.Fatalf("stale write: got %v, want STALE_WRITE", err)
	}

	// The refused write must not have changed anything.
	got, _, _ := m.ReadSnapshot(ctx, "test")
	if _, ok := got.Resources["m/a[0]"]; !ok {
		t.Error("original record lost after refused write")
	}
	if _, ok := got.Resources["m/b[0]"]; ok {
		t.Error("stale write leaked into the store")
	}
}

func TestLockExclusion(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	lock, err := m.Lock(ctx, LockScope{Key: "test", Who: "a@host", Operation: "apply"})
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	_, err = m.Lock(ctx, LockScope{Key: "test", Who: "b@host", Operation: "plan"})
	if !errors.Is(err, errors.ErrCodeLockBusy) {
		t.Fatalf("second Lock: got %v, want LOCK_BUSY", err)
	}

	// A different key is independent.
	other, err := m.Lock(ctx, LockScope{Key: "other", Who: "b@host", Operation: "plan"})
	if err != nil {
		t.Fatalf("Lock other key: %v", err)
	}
	_ = other.Unlock(ctx)

	if err := lock.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	relock, err := m.Lock(ctx, LockScope{Key: "test", Who: "b@host", Operation: "plan"})
	if err != nil {
		t.Fatalf("Lock after Unlock: %v", err)
	}
	_ = relock.Unlock(ctx)
}

func TestLockWaitRetries(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	lock, err := m.Lock(ctx, LockScope{Key: "test", Who: "a@host"})
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	// Release shortly after the waiter starts retrying.
	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = lock.Unlock(context.Background())
	}()

	waited, err := m.Lock(ctx, LockScope{Key: "test", Who: "b@host", Wait: 5 * time.Second})
	if err != nil {
		t.Fatalf("Lock with wait: %v", err)
	}
	_ = waited.Unlock(ctx)
}

func TestForceUnlock(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	lock, err := m.Lock(ctx, LockScope{Key: "test", Who: "a@host", Operation: "apply"})
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	info, err := m.ReadLock(ctx, "test")
	if err != nil {
		t.Fatalf("ReadLock: %v", err)
	}
	if info.ID != lock.ID() {
		t.Errorf("ReadLock ID: got %q, want %q", info.ID, lock.ID())
	}

	if err := m.ForceUnlock(ctx, "test"); err != nil {
		t.Fatalf("ForceUnlock: %v", err)
	}

	taken, err := m.Lock(ctx, LockScope{Key: "test", Who: "b@host"})
	if err != nil {
		t.Fatalf("Lock after ForceUnlock: %v", err)
	}
	_ = taken.Unlock(ctx)
}

func TestListKeys(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, key := range []string{"prod", "staging"} {
		snap, digest, _ := m.ReadSnapshot(ctx, key)
		snap.Put(&types.ResourceRecord{Module: "m", Template: "a", Index: 0, Kind: "thing"})
		if _, err := m.WriteSnapshot(ctx, key, snap, digest); err != nil {
			t.Fatalf("WriteSnapshot %s: %v", key, err)
		}
	}

	keys, err := m.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("ListKeys: got %v", keys)
	}
}

func TestDeleteSnapshot(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	snap, digest, _ := m.ReadSnapshot(ctx, "test")
	snap.Put(&types.ResourceRecord{Module: "m", Template: "a", Index: 0, Kind: "thing"})
	if _, err := m.WriteSnapshot(ctx, "test", snap, digest); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	if err := m.DeleteSnapshot(ctx, "test"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}

	got, _, err := m.ReadSnapshot(ctx, "test")
	if err != nil {
		t.Fatalf("ReadSnapshot after delete: %v", err)
	}
	if len(got.Resources) != 0 {
		t.Error("snapshot not empty after delete")
	}
}
