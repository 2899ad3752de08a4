package types

import (
	"testing"
	"time"
)

func TestInstanceID(t *testing.T) {
	id := InstanceID("network", "subnet", 2)
	if id != "network/subnet[2]" {
		t.Errorf("InstanceID: got %q", id)
	}
}

func TestRecordID(t *testing.T) {
	r := &ResourceRecord{Module: "app", Template: "server", Index: 0}
	if r.ID() != "app/server[0]" {
		t.Errorf("ID: got %q", r.ID())
	}
}

func TestPutBumpsSerial(t *testing.T) {
	snap := NewSnapshot("test")
	if snap.Serial != 0 {
		t.Fatalf("new snapshot serial: got %d", snap.Serial)
	}

	snap.Put(&ResourceRecord{Module: "m", Template: "a", Index: 0, Kind: "thing"})
	if snap.Serial != 1 {
		t.Errorf("serial after Put: got %d", snap.Serial)
	}

	snap.Remove("m/a[0]")
	if snap.Serial != 2 {
		t.Errorf("serial after Remove: got %d", snap.Serial)
	}

	// Removing an absent record must not bump the serial.
	snap.Remove("m/a[0]")
	if snap.Serial != 2 {
		t.Errorf("serial after redundant Remove: got %d", snap.Serial)
	}
}

func TestDigestIgnoresSnapshotTimestamps(t *testing.T) {
	a := NewSnapshot("test")
	a.Put(&ResourceRecord{Module: "m", Template: "a", Index: 0, Kind: "thing"})

	before := a.Digest()
	a.CreatedAt = a.CreatedAt.Add(time.Hour)
	a.UpdatedAt = a.UpdatedAt.Add(time.Hour)
	after := a.Digest()

	if before != after {
		t.Error("digest changed when only snapshot timestamps changed")
	}
}

func TestDigestChangesWithContent(t *testing.T) {
	snap := NewSnapshot("test")
	d0 := snap.Digest()

	snap.Put(&ResourceRecord{Module: "m", Template: "a", Index: 0, Kind: "thing"})
	d1 := snap.Digest()
	if d0 == d1 {
		t.Error("digest did not change after Put")
	}

	snap.Remove("m/a[0]")
	d2 := snap.Digest()
	if d2 == d0 || d2 == d1 {
		t.Error("digest did not change after Remove")
	}
}

func TestDigestStableAcrossInsertionOrder(t *testing.T) {
	build := func(order []string) *Snapshot {
		snap := &Snapshot{Key: "test", Resources: make(map[string]*ResourceRecord)}
		for _, name := range order {
			snap.Resources[InstanceID("m", name, 0)] = &ResourceRecord{
				Module: "m", Template: name, Index: 0, Kind: "thing",
			}
		}
		snap.Serial = uint64(len(order))
		return snap
	}

	a := build([]string{"a", "b", "c"})
	b := build([]string{"c", "a", "b"})

	if a.Digest() != b.Digest() {
		t.Error("digest depends on record insertion order")
	}
}

func TestSortedIDs(t *testing.T) {
	snap := NewSnapshot("test")
	snap.Put(&ResourceRecord{Module: "m", Template: "b", Index: 0})
	snap.Put(&ResourceRecord{Module: "m", Template: "a", Index: 1})
	snap.Put(&ResourceRecord{Module: "m", Template: "a", Index: 0})

	ids := snap.SortedIDs()
	want := []string{"m/a[0]", "m/a[1]", "m/b[0]"}
	if len(ids) != len(want) {
		t.Fatalf("SortedIDs length: got %d", len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("SortedIDs[%d]: got %q, want %q", i, ids[i], want[i])
		}
	}
}
