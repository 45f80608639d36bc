package kernel

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/interner"
	"github.com/nervusdb/kernel/internal/segment"
)

// loadLabels reads the checkpoint-persisted label/relation-type table,
// or returns a fresh interner if the database has never been
// checkpointed. Grounded on the teacher's small-JSON-sidecar pattern
// used by walog.Dedupe.Save/Load.
func loadLabels(path string) (*interner.Labels, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return interner.NewLabels(), nil
	}
	if err != nil {
		return nil, err
	}
	var entries []interner.LabelEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return interner.LoadLabels(entries), nil
}

// saveLabels persists the label/relation-type table atomically via a
// temp-file-then-rename, matching the manifest's write pattern.
func saveLabels(path string, labels *interner.Labels) error {
	data, err := json.Marshal(labels.Snapshot())
	if err != nil {
		return err
	}
	return atomicWriteFile(path, data)
}

// labelIndexEntry is one (label, members) row of the persisted
// node-label membership index used to answer nodes(label) queries
// without a full segment scan.
type labelIndexEntry struct {
	Label   common.InternedID        `json:"label"`
	Members []common.InternalNodeID  `json:"members"`
}

func loadLabelIndex(path string, out map[common.InternedID]map[common.InternalNodeID]bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var entries []labelIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		set := make(map[common.InternalNodeID]bool, len(e.Members))
		for _, m := range e.Members {
			set[m] = true
		}
		out[e.Label] = set
	}
	return nil
}

func saveLabelIndex(path string, index map[common.InternedID]map[common.InternalNodeID]bool) error {
	entries := make([]labelIndexEntry, 0, len(index))
	for label, set := range index {
		members := make([]common.InternalNodeID, 0, len(set))
		for node := range set {
			members = append(members, node)
		}
		entries = append(entries, labelIndexEntry{Label: label, Members: members})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return atomicWriteFile(path, data)
}

// loadManifest opens the segment manifest at path, or creates a fresh
// empty one (using the engine's configured cold compression) if the
// database has never compacted.
func loadManifest(path string, opts Options) (*segment.Manifest, error) {
	m, err := segment.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return segment.Empty(opts.ColdCompression), nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
