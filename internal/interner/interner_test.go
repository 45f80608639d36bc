package interner

import (
	"path/filepath"
	"testing"

	"github.com/nervusdb/kernel/internal/idindex"
	"github.com/nervusdb/kernel/internal/pager"
)

func TestLabelsCreateIfAbsentSharesIDSpace(t *testing.T) {
	l := NewLabels()

	labelID, fresh := l.CreateIfAbsent("Person")
	if !fresh {
		t.Fatal("expected first CreateIfAbsent to be fresh")
	}
	relID, fresh := l.CreateIfAbsent("KNOWS")
	if !fresh {
		t.Fatal("expected first CreateIfAbsent of a relation type to be fresh")
	}
	if labelID == relID {
		t.Fatalf("expected distinct ids for distinct names, both got %d", labelID)
	}

	// A label name and a relation type name share one id space (spec §9:
	// no dual-interner split between labels and relation types).
	again, fresh := l.CreateIfAbsent("Person")
	if fresh {
		t.Fatal("expected second CreateIfAbsent of the same name to not mint a new id")
	}
	if again != labelID {
		t.Fatalf("expected %d, got %d", labelID, again)
	}

	name, ok := l.Name(labelID)
	if !ok || name != "Person" {
		t.Fatalf("Name(%d) = (%q,%v), want (\"Person\",true)", labelID, name, ok)
	}
}

func TestLabelsSnapshotRoundTrip(t *testing.T) {
	l := NewLabels()
	l.CreateIfAbsent("Person")
	l.CreateIfAbsent("Company")
	l.CreateIfAbsent("WORKS_AT")

	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 snapshot entries, got %d", len(snap))
	}

	loaded := LoadLabels(snap)
	for _, e := range snap {
		name, ok := loaded.Name(e.ID)
		if !ok || name != e.Name {
			t.Fatalf("loaded.Name(%d) = (%q,%v), want (%q,true)", e.ID, name, ok, e.Name)
		}
		id, ok := loaded.Resolve(e.Name)
		if !ok || id != e.ID {
			t.Fatalf("loaded.Resolve(%q) = (%d,%v), want (%d,true)", e.Name, id, ok, e.ID)
		}
	}

	// Loaded interner must continue minting fresh ids above the
	// restored high water mark, not collide with a restored id.
	next, fresh := loaded.CreateIfAbsent("Department")
	if !fresh {
		t.Fatal("expected a genuinely new name to mint a fresh id")
	}
	for _, e := range snap {
		if next == e.ID {
			t.Fatalf("freshly minted id %d collides with restored id for %q", next, e.Name)
		}
	}
}

func TestNodeIDsAssignIfAbsentNeverReuses(t *testing.T) {
	n := NewNodeIDs()

	id1, fresh := n.AssignIfAbsent(100)
	if !fresh {
		t.Fatal("expected first assignment to be fresh")
	}
	id2, fresh := n.AssignIfAbsent(100)
	if fresh {
		t.Fatal("expected re-assigning the same external id to not mint a new one")
	}
	if id1 != id2 {
		t.Fatalf("expected stable internal id, got %d then %d", id1, id2)
	}

	id3, fresh := n.AssignIfAbsent(200)
	if !fresh || id3 == id1 {
		t.Fatalf("expected a distinct fresh id for a distinct external id, got %d (first was %d)", id3, id1)
	}

	ext, ok := n.ResolveInternal(id1)
	if !ok || ext != 100 {
		t.Fatalf("ResolveInternal(%d) = (%d,%v), want (100,true)", id1, ext, ok)
	}
}

// TestLoadNodeIDsPreservesHighWaterMark covers spec invariant 3:
// internal ids are never reused, even across a checkpoint reload.
func TestLoadNodeIDsPreservesHighWaterMark(t *testing.T) {
	n := NewNodeIDs()
	n.AssignIfAbsent(1)
	n.AssignIfAbsent(2)
	highID, _ := n.AssignIfAbsent(3)

	// Simulate a checkpoint snapshot persisted then reloaded through a
	// real idindex.Table (the page-level round trip itself is covered by
	// idindex_test.go).
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "test.ndb"), 16)
	if err != nil {
		t.Fatalf("pager.Open failed: %v", err)
	}
	defer p.Close()

	table, err := idindex.Rebuild(p, n.Snapshot())
	if err != nil {
		t.Fatalf("idindex.Rebuild failed: %v", err)
	}

	loaded := LoadNodeIDs(table)
	fresh, ok := loaded.AssignIfAbsent(4)
	if !ok {
		t.Fatal("expected external id 4 to be unassigned after reload")
	}
	if fresh <= highID {
		t.Fatalf("expected a fresh id above the restored high water mark %d, got %d", highID, fresh)
	}
}
