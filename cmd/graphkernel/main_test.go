package main

import (
	"testing"

	"github.com/nervusdb/kernel"
)

func setupTestEngine(t *testing.T) (*kernel.Engine, func()) {
	dir := t.TempDir()
	e, err := kernel.Open(kernel.DefaultOptions(dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return e, func() { e.Close() }
}

func defaultDispatchOptions() dispatchOptions {
	return dispatchOptions{respectReaders: true, benchEdges: 100, benchBatchSize: 10}
}

func TestDispatchCheckOnFreshDatabase(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	if code := dispatch("check", e, defaultDispatchOptions()); code != exitOK {
		t.Fatalf("check on a fresh database: expected exit %d, got %d", exitOK, code)
	}
}

func TestDispatchRepairOnFreshDatabase(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	if code := dispatch("repair", e, defaultDispatchOptions()); code != exitOK {
		t.Fatalf("repair on a fresh database: expected exit %d, got %d", exitOK, code)
	}
	strictCheck := defaultDispatchOptions()
	strictCheck.strict = true
	if code := dispatch("check", e, strictCheck); code != exitOK {
		t.Fatalf("strict check after repair: expected exit %d, got %d", exitOK, code)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	if code := dispatch("bogus", e, defaultDispatchOptions()); code != exitUsage {
		t.Fatalf("unknown command: expected exit %d, got %d", exitUsage, code)
	}
}

func TestDispatchGCAndAutoCompact(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	b, err := e.BeginBatch(kernel.DefaultBatchOptions())
	if err != nil {
		t.Fatalf("BeginBatch failed: %v", err)
	}
	if err := b.AddEdge(1, 2, "R"); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	if err := b.Commit(kernel.DefaultCommitOptions()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if code := dispatch("autocompact", e, defaultDispatchOptions()); code != exitOK {
		t.Fatalf("autocompact: expected exit %d, got %d", exitOK, code)
	}
	if code := dispatch("gc", e, defaultDispatchOptions()); code != exitOK {
		t.Fatalf("gc: expected exit %d, got %d", exitOK, code)
	}
	if code := dispatch("stats", e, defaultDispatchOptions()); code != exitOK {
		t.Fatalf("stats: expected exit %d, got %d", exitOK, code)
	}
}

func TestDispatchBenchCommitsRequestedEdges(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	opts := defaultDispatchOptions()
	opts.benchEdges = 50
	opts.benchBatchSize = 5
	if code := dispatch("bench", e, opts); code != exitOK {
		t.Fatalf("bench: expected exit %d, got %d", exitOK, code)
	}
	if got := e.Stats().EdgeCount; got != 50 {
		t.Fatalf("expected bench to commit 50 edges, got %d", got)
	}
}
