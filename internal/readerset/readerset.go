// Package readerset implements the reader registry (spec §4.8, §6):
// the set of active snapshot readers, each pinning one or more epochs
// so the compactor and GC know which manifest-referenced pages are
// still reachable. Registration is both in-memory (fast path for the
// single live process holding the write lock) and persisted as one
// small JSON file per reader under P.pages/readers/, so cross-process
// maintenance tools (`compact`, `gc`) can honor `respectReaders`
// without talking to the live engine.
package readerset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is the on-disk shape of one active reader (spec §6:
// "{pid, sessionId, pinnedEpochs:[...], startedAt}").
type Record struct {
	PID          int       `json:"pid"`
	SessionID    string    `json:"sessionId"`
	PinnedEpochs []uint64  `json:"pinnedEpochs"`
	StartedAt    time.Time `json:"startedAt"`
}

// Registry tracks active readers for one open database.
type Registry struct {
	dir string

	mu      sync.Mutex
	active  map[string]*Record
	nowFunc func() time.Time
}

// Open prepares the registry directory (dir = P.pages/readers) and
// returns an empty in-memory registry; any stale files left from a
// prior crash are cleaned up lazily by Reap, not on Open.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Registry{dir: dir, active: make(map[string]*Record), nowFunc: time.Now}, nil
}

// Handle is a live reader registration; Release unregisters it.
type Handle struct {
	r         *Registry
	sessionID string
}

// Register pins epoch on behalf of the current process and persists a
// reader file. The returned Handle must be released when the snapshot
// is dropped.
func (r *Registry) Register(epoch uint64) (*Handle, error) {
	sessionID := uuid.NewString()
	rec := &Record{
		PID:          os.Getpid(),
		SessionID:    sessionID,
		PinnedEpochs: []uint64{epoch},
		StartedAt:    r.nowFunc(),
	}

	r.mu.Lock()
	r.active[sessionID] = rec
	r.mu.Unlock()

	if err := r.writeRecord(rec); err != nil {
		r.mu.Lock()
		delete(r.active, sessionID)
		r.mu.Unlock()
		return nil, err
	}
	return &Handle{r: r, sessionID: sessionID}, nil
}

// Release unregisters the reader, removing both the in-memory entry
// and its on-disk file.
func (h *Handle) Release() error {
	h.r.mu.Lock()
	delete(h.r.active, h.sessionID)
	h.r.mu.Unlock()
	path := filepath.Join(h.r.dir, h.sessionID+".json")
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (r *Registry) writeRecord(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	path := filepath.Join(r.dir, rec.SessionID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// MinPinnedEpoch scans the on-disk reader files (which reflect every
// reader in this process and any other process sharing the database)
// and returns the oldest pinned epoch, plus whether any reader exists
// at all.
func (r *Registry) MinPinnedEpoch() (epoch uint64, any bool) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, false
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		for _, e := range rec.PinnedEpochs {
			if !any || e < epoch {
				epoch = e
				any = true
			}
		}
	}
	return epoch, any
}

// Count reports the number of live in-process readers, used by the
// metrics collector.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
