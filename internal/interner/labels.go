package interner

import (
	"sort"
	"sync"

	"github.com/nervusdb/kernel/common"
)

// Labels is the single shared string<->u32 interner used for both
// node labels and relation types (spec §4.3, §9). There is exactly one
// of these per engine; nothing in this package lets a caller construct
// a second one pointed at the same ids, which is how the teacher's
// dual-interner bug happened in the original.
type Labels struct {
	mu      sync.RWMutex
	byName  map[string]common.InternedID
	byID    []string // index 0 unused
	nextID  uint32
}

// NewLabels creates an empty shared interner.
func NewLabels() *Labels {
	return &Labels{
		byName: make(map[string]common.InternedID),
		byID:   make([]string, 1),
	}
}

// Resolve returns the id for name if it has been created.
func (l *Labels) Resolve(name string) (common.InternedID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byName[name]
	return id, ok
}

// Name returns the string for an id.
func (l *Labels) Name(id common.InternedID) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if int(id) >= len(l.byID) || id == 0 {
		return "", false
	}
	return l.byID[id], true
}

// CreateIfAbsent returns the existing id for name, or mints a fresh one
// shared across labels and relation types. The bool reports whether a
// new id was minted (callers must WAL-log CreateLabel before commit).
func (l *Labels) CreateIfAbsent(name string) (common.InternedID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byName[name]; ok {
		return id, false
	}
	l.nextID++
	id := common.InternedID(l.nextID)
	l.byName[name] = id
	for int(id) >= len(l.byID) {
		l.byID = append(l.byID, "")
	}
	l.byID[id] = name
	return id, true
}

// ApplyCreate installs a (name, id) pair learned from WAL replay.
func (l *Labels) ApplyCreate(name string, id common.InternedID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byName[name] = id
	for int(id) >= len(l.byID) {
		l.byID = append(l.byID, "")
	}
	l.byID[id] = name
	if uint32(id) > l.nextID {
		l.nextID = uint32(id)
	}
}

// LabelEntry is one row of the persisted label-table snapshot.
type LabelEntry struct {
	ID   common.InternedID
	Name string
}

// Snapshot returns every (id, name) pair sorted by id, for checkpoint
// persistence.
func (l *Labels) Snapshot() []LabelEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]LabelEntry, 0, len(l.byName))
	for name, id := range l.byName {
		entries = append(entries, LabelEntry{ID: id, Name: name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// LoadLabels rebuilds a Labels interner from a persisted snapshot.
func LoadLabels(entries []LabelEntry) *Labels {
	l := NewLabels()
	for _, e := range entries {
		l.ApplyCreate(e.Name, e.ID)
	}
	return l
}

// Clone returns an independent copy of the interner as it stands right
// now, for a Snapshot to pin: labels or relation types created after
// the clone is taken never appear in it.
func (l *Labels) Clone() *Labels {
	l.mu.RLock()
	defer l.mu.RUnlock()
	byName := make(map[string]common.InternedID, len(l.byName))
	for k, v := range l.byName {
		byName[k] = v
	}
	byID := make([]string, len(l.byID))
	copy(byID, l.byID)
	return &Labels{byName: byName, byID: byID, nextID: l.nextID}
}
