package pager

import (
	"path/filepath"
	"testing"
)

func TestAllocateWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(filepath.Join(dir, "test.ndb"), 16)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	id, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	page := make([]byte, PageSize)
	copy(page, []byte("hello page"))
	if err := p.Write(id, page); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := p.Read(id)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got[:10]) != "hello page" {
		t.Fatalf("round-trip mismatch: got %q", got[:10])
	}
}

func TestFreeReclaimsPageID(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(filepath.Join(dir, "test.ndb"), 16)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	id, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := p.Free(id); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	reused, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if reused != id {
		t.Fatalf("expected Free'd page %d to be reused, got %d", id, reused)
	}
}

// TestMetaAndBitmapSurviveReopen covers the meta/bitmap persistence this
// package's Open/FlushMetaAndBitmap split is built around (spec §4.1):
// roots and allocation state must be recoverable after a clean close.
func TestMetaAndBitmapSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.ndb")

	var id PageID
	{
		p, err := Open(path, 16)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		var allocErr error
		id, allocErr = p.Allocate()
		if allocErr != nil {
			t.Fatalf("Allocate failed: %v", allocErr)
		}
		p.SetRoots(id, id+1)
		p.SetManifestRevision(42)
		if err := p.FlushMetaAndBitmap(); err != nil {
			t.Fatalf("FlushMetaAndBitmap failed: %v", err)
		}
		if err := p.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	p, err := Open(path, 16)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer p.Close()

	interner, property := p.Roots()
	if interner != id || property != id+1 {
		t.Fatalf("roots did not survive reopen: got (%d,%d), want (%d,%d)", interner, property, id, id+1)
	}
	if rev := p.ManifestRevision(); rev != 42 {
		t.Fatalf("manifest revision did not survive reopen: got %d, want 42", rev)
	}

	// Page 0 (meta) and 1 (bitmap) are self-allocated at creation, plus
	// the page Allocate'd above.
	reused, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate after reopen failed: %v", err)
	}
	if reused == id || reused == 0 || reused == 1 {
		t.Fatalf("reopen allocated an already-used page id %d", reused)
	}
}

func TestOpenRejectsFormatMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.ndb")
	p, err := Open(path, 16)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	p.meta.FormatEpoch = formatEpoch + 1
	if err := p.FlushMetaAndBitmap(); err != nil {
		t.Fatalf("FlushMetaAndBitmap failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := Open(path, 16); err == nil {
		t.Fatal("expected format-mismatch error on reopen, got nil")
	}
}
