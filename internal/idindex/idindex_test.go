package idindex

import (
	"path/filepath"
	"testing"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/pager"
)

func setupTestPager(t *testing.T) *pager.Pager {
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "test.ndb"), 64)
	if err != nil {
		t.Fatalf("pager.Open failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestRebuildLoadRoundTrip(t *testing.T) {
	p := setupTestPager(t)

	entries := make([]Entry, 0, 5000)
	for i := common.ExternalID(1); i <= 5000; i++ {
		entries = append(entries, Entry{External: i, Internal: common.InternalNodeID(i)})
	}

	table, err := Rebuild(p, entries)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	loaded, err := Load(p, table.Root())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded.All()) != len(entries) {
		t.Fatalf("expected %d entries after reload, got %d", len(entries), len(loaded.All()))
	}
	for _, e := range entries {
		got, ok := loaded.Lookup(e.External)
		if !ok || got != e.Internal {
			t.Fatalf("lookup(%d): got (%d,%v), want (%d,true)", e.External, got, ok, e.Internal)
		}
	}
}

func TestLookupMissingExternalID(t *testing.T) {
	p := setupTestPager(t)

	entries := []Entry{{External: 1, Internal: 1}, {External: 3, Internal: 2}}
	table, err := Rebuild(p, entries)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	if _, ok := table.Lookup(2); ok {
		t.Fatal("expected Lookup(2) to miss, found a mapping")
	}
}

func TestEmptyTableRootIsZero(t *testing.T) {
	table := Empty()
	if table.Root() != 0 {
		t.Fatalf("expected zero root on a fresh table, got %d", table.Root())
	}
	if _, ok := table.Lookup(1); ok {
		t.Fatal("expected Lookup on an empty table to miss")
	}
}

// TestLoadDetectsCorruption covers the CRC32 verification every leaf/
// directory page carries (spec invariant 5).
func TestLoadDetectsCorruption(t *testing.T) {
	p := setupTestPager(t)

	entries := []Entry{{External: 1, Internal: 1}}
	table, err := Rebuild(p, entries)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	corrupt, err := p.Read(table.Root())
	if err != nil {
		t.Fatalf("Read root failed: %v", err)
	}
	corrupt[0] ^= 0xFF
	if err := p.Write(table.Root(), corrupt); err != nil {
		t.Fatalf("Write corrupted root failed: %v", err)
	}

	if _, err := Load(p, table.Root()); err == nil {
		t.Fatal("expected a PageCorrupt error loading a corrupted root, got nil")
	}
}
