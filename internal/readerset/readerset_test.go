package readerset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func setupTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return r, dir
}

func TestRegisterPersistsRecordAndCount(t *testing.T) {
	r, dir := setupTestRegistry(t)

	handle, err := r.Register(7)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}

	path := filepath.Join(dir, handle.sessionID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected a reader record file on disk: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal record failed: %v", err)
	}
	if len(rec.PinnedEpochs) != 1 || rec.PinnedEpochs[0] != 7 {
		t.Fatalf("expected pinned epoch 7, got %+v", rec.PinnedEpochs)
	}
	if rec.PID != os.Getpid() {
		t.Fatalf("expected record PID to match the current process, got %d", rec.PID)
	}
}

func TestReleaseRemovesRecordAndDecrementsCount(t *testing.T) {
	r, dir := setupTestRegistry(t)

	handle, err := r.Register(3)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	path := filepath.Join(dir, handle.sessionID+".json")

	if err := handle.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("Count() = %d after Release, want 0", r.Count())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected reader record file to be removed after Release, stat err=%v", err)
	}
}

func TestReleaseOnAlreadyRemovedFileIsNotAnError(t *testing.T) {
	r, dir := setupTestRegistry(t)
	handle, err := r.Register(1)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	path := filepath.Join(dir, handle.sessionID+".json")
	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to pre-remove the record file: %v", err)
	}
	if err := handle.Release(); err != nil {
		t.Fatalf("expected Release to tolerate an already-missing file, got %v", err)
	}
}

func TestMinPinnedEpochAcrossMultipleReaders(t *testing.T) {
	r, _ := setupTestRegistry(t)

	if _, any := r.MinPinnedEpoch(); any {
		t.Fatal("expected no pinned epoch with zero registered readers")
	}

	h1, err := r.Register(10)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer h1.Release()
	h2, err := r.Register(4)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer h2.Release()
	h3, err := r.Register(25)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer h3.Release()

	epoch, any := r.MinPinnedEpoch()
	if !any || epoch != 4 {
		t.Fatalf("MinPinnedEpoch() = (%d,%v), want (4,true)", epoch, any)
	}
}

// TestMinPinnedEpochReadsCrossProcessFiles covers the cross-process
// contract: MinPinnedEpoch must reflect reader files on disk even if
// they were never registered through this particular in-memory
// Registry (spec §6: maintenance tools read the directory directly).
func TestMinPinnedEpochReadsCrossProcessFiles(t *testing.T) {
	r, dir := setupTestRegistry(t)

	foreign := Record{PID: 99999, SessionID: "foreign-session", PinnedEpochs: []uint64{2}}
	data, err := json.Marshal(foreign)
	if err != nil {
		t.Fatalf("marshal foreign record failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, foreign.SessionID+".json"), data, 0644); err != nil {
		t.Fatalf("write foreign record failed: %v", err)
	}

	epoch, any := r.MinPinnedEpoch()
	if !any || epoch != 2 {
		t.Fatalf("MinPinnedEpoch() = (%d,%v), want (2,true) from the on-disk foreign record", epoch, any)
	}
}
