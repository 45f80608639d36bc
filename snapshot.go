package kernel

import (
	"sort"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/interner"
	"github.com/nervusdb/kernel/internal/memtable"
	"github.com/nervusdb/kernel/internal/propstore"
	"github.com/nervusdb/kernel/internal/readerset"
	"github.com/nervusdb/kernel/internal/segment"
	"github.com/nervusdb/kernel/internal/value"
)

// Snapshot is a consistent, point-in-time view of the graph (spec
// §4.8, C9). It pins (epoch, maxSeq) at creation: epoch fixes which
// segment manifest it reads, maxSeq fixes which MemTable/L0 entries it
// sees. Everything read through a Snapshot is immutable for the
// Snapshot's lifetime, even as the engine keeps committing underneath
// it — exactly the isolation the teacher's own readers get from never
// mutating an already-flushed SSTable in place.
type Snapshot struct {
	epoch  uint64
	maxSeq uint64

	memtable *memtable.MemTable
	runs     []*memtable.L0Run // newest-first
	manifest *segment.Manifest

	nodeIDs *interner.NodeIDs
	labels  *interner.Labels
	props   *propstore.Store

	nodeLabels map[common.InternedID]map[common.InternalNodeID]bool

	segDir  string
	readers map[segment.Order]*segment.Reader

	handle *readerset.Handle
	closed bool
}

// Snapshot opens a new read-only view pinned at the engine's current
// commit sequence and manifest epoch. Callers must Close it when done
// so compaction's GC can reclaim pages it no longer needs.
func (e *Engine) Snapshot() (*Snapshot, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	handle, err := e.readers.Register(e.manifest.Epoch)
	if err != nil {
		return nil, err
	}

	// nodeIDs/labels/props/nodeLabels are cloned rather than shared by
	// reference: a later commit mutates these same engine-owned maps in
	// place (new ids, new labels, folded-in properties), and a pinned
	// Snapshot must never observe that (spec §4.8, §8.5).
	s := &Snapshot{
		epoch:      e.manifest.Epoch,
		maxSeq:     e.commitSeq.Load(),
		memtable:   e.activeMT,
		runs:       append([]*memtable.L0Run(nil), e.frozenRuns...),
		manifest:   e.manifest,
		nodeIDs:    e.nodeIDs.Clone(),
		labels:     e.labels.Clone(),
		props:      e.props.Clone(),
		nodeLabels: cloneNodeLabels(e.nodeLabels),
		segDir:     e.dir + "/" + pagesDir,
		readers:    make(map[segment.Order]*segment.Reader),
		handle:     handle,
	}
	return s, nil
}

func cloneNodeLabels(src map[common.InternedID]map[common.InternalNodeID]bool) map[common.InternedID]map[common.InternalNodeID]bool {
	dst := make(map[common.InternedID]map[common.InternalNodeID]bool, len(src))
	for label, members := range src {
		set := make(map[common.InternalNodeID]bool, len(members))
		for node := range members {
			set[node] = true
		}
		dst[label] = set
	}
	return dst
}

// WithSnapshot opens a Snapshot, runs fn, and closes it afterward
// regardless of fn's outcome.
func (e *Engine) WithSnapshot(fn func(*Snapshot) error) error {
	s, err := e.Snapshot()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Close releases the snapshot's pinned epoch so compaction GC can
// proceed once no other reader needs pages older than it.
func (s *Snapshot) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, r := range s.readers {
		r.Close()
	}
	if s.handle != nil {
		return s.handle.Release()
	}
	return nil
}

func (s *Snapshot) reader(order segment.Order) (*segment.Reader, error) {
	if r, ok := s.readers[order]; ok {
		return r, nil
	}
	r, err := segment.OpenReader(s.segDir, order, s.manifest.LookupFor(order))
	if err != nil {
		return nil, err
	}
	s.readers[order] = r
	return r, nil
}

// ResolveExternal maps a caller-supplied external node id to its
// internal id, if the node has been seen.
func (s *Snapshot) ResolveExternal(ext common.ExternalID) (common.InternalNodeID, bool) {
	return s.nodeIDs.Resolve(ext)
}

// ExternalOf maps an internal node id back to the external id the
// caller originally supplied.
func (s *Snapshot) ExternalOf(id common.InternalNodeID) (common.ExternalID, bool) {
	return s.nodeIDs.ResolveInternal(id)
}

// ResolveLabel maps a label or relation-type name to its interned id.
func (s *Snapshot) ResolveLabel(name string) (common.InternedID, bool) {
	return s.labels.Resolve(name)
}

// LabelName maps an interned label/relation-type id back to its name.
func (s *Snapshot) LabelName(id common.InternedID) (string, bool) {
	return s.labels.Name(id)
}

// edgeVisible reports whether e is present as of this snapshot's
// pinned sequence, checking the MemTable, then L0 runs newest-first,
// then the committed segment manifest's tombstone list. A segment hit
// is only trusted once we know no memtable/L0 layer has an opinion.
func (s *Snapshot) edgeVisible(e common.Edge) bool {
	if added, tombstoned := s.memtable.HasEdge(e, s.maxSeq); added || tombstoned {
		return added
	}
	for _, r := range s.runs {
		if added, tombstoned := r.HasEdge(e); added || tombstoned {
			return added
		}
	}
	if s.manifest.HasTombstone(e) {
		return false
	}
	return true
}

// Out returns every outgoing edge from src, optionally restricted to
// one relation type, in SPO order with duplicates removed.
func (s *Snapshot) Out(src common.InternalNodeID, relType *common.InternedID) ([]common.Edge, error) {
	reader, err := s.reader(segment.SPO)
	if err != nil {
		return nil, err
	}
	segEdges, err := reader.Lookup(uint32(src))
	if err != nil {
		return nil, err
	}

	candidates := make(map[common.Edge]bool)
	for _, e := range segEdges {
		if e.Src == src {
			candidates[e] = true
		}
	}
	for _, r := range s.runs {
		for _, e := range r.Edges() {
			if e.Src == src {
				candidates[e] = true
			}
		}
	}
	added, _ := s.memtable.Edges(s.maxSeq)
	for _, e := range added {
		if e.Src == src {
			candidates[e] = true
		}
	}

	out := make([]common.Edge, 0, len(candidates))
	for e := range candidates {
		if relType != nil && e.Type != *relType {
			continue
		}
		if s.edgeVisible(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

// In returns every incoming edge to dst, optionally restricted to one
// relation type, in OSP order with duplicates removed.
func (s *Snapshot) In(dst common.InternalNodeID, relType *common.InternedID) ([]common.Edge, error) {
	reader, err := s.reader(segment.OSP)
	if err != nil {
		return nil, err
	}
	segEdges, err := reader.Lookup(uint32(dst))
	if err != nil {
		return nil, err
	}

	candidates := make(map[common.Edge]bool)
	for _, e := range segEdges {
		if e.Dst == dst {
			candidates[e] = true
		}
	}
	for _, r := range s.runs {
		for _, e := range r.Edges() {
			if e.Dst == dst {
				candidates[e] = true
			}
		}
	}
	added, _ := s.memtable.Edges(s.maxSeq)
	for _, e := range added {
		if e.Dst == dst {
			candidates[e] = true
		}
	}

	out := make([]common.Edge, 0, len(candidates))
	for e := range candidates {
		if relType != nil && e.Type != *relType {
			continue
		}
		if s.edgeVisible(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return segment.Less(segment.OSP, out[i], out[j])
	})
	return out, nil
}

// HasEdge reports whether the exact triple e is visible in this
// snapshot.
func (s *Snapshot) HasEdge(e common.Edge) bool {
	return s.edgeVisible(e)
}

// NodeProperty resolves the most recent value of field on node,
// checking the MemTable, then L0 runs newest-first, then the durable
// property store.
func (s *Snapshot) NodeProperty(node common.InternalNodeID, field string) (value.Value, bool) {
	if v, ok := s.memtable.NodeProperty(node, field, s.maxSeq); ok {
		return v, !v.IsNull()
	}
	for _, r := range s.runs {
		if v, ok := r.NodeProperty(node, field); ok {
			return v, !v.IsNull()
		}
	}
	v, ok := s.props.NodeProperty(node, field)
	return v, ok
}

// EdgeProperty resolves the most recent value of field on e, checking
// the MemTable, then L0 runs newest-first, then the durable property
// store.
func (s *Snapshot) EdgeProperty(e common.Edge, field string) (value.Value, bool) {
	if v, ok := s.memtable.EdgeProperty(e, field, s.maxSeq); ok {
		return v, !v.IsNull()
	}
	for _, r := range s.runs {
		if v, ok := r.EdgeProperty(e, field); ok {
			return v, !v.IsNull()
		}
	}
	v, ok := s.props.EdgeProperty(e, field)
	return v, ok
}

// NodesMode selects how NodeFilter.Labels combine when more than one
// label is given.
type NodesMode int

const (
	// NodesAny matches a node carrying at least one of the filter's
	// labels (set union). The zero value, so an empty NodeFilter's
	// Mode defaults to this.
	NodesAny NodesMode = iota
	// NodesAll matches a node carrying every one of the filter's
	// labels (set intersection).
	NodesAll
)

// NodeFilter selects which nodes Snapshot.Nodes returns (spec §4.8:
// `nodes(filter) -> iterator<InternalNodeId>`). A zero-value NodeFilter
// (no labels) matches every known node.
type NodeFilter struct {
	Labels []common.InternedID
	Mode   NodesMode
}

// membersOfLabel returns the set of nodes currently carrying label,
// folding the durable (checkpointed) membership index with the
// MemTable/L0 assignments made since.
func (s *Snapshot) membersOfLabel(label common.InternedID) map[common.InternalNodeID]bool {
	seen := make(map[common.InternalNodeID]bool)
	if set, ok := s.nodeLabels[label]; ok {
		for node := range set {
			seen[node] = true
		}
	}
	applyAssignments := func(assignments []memtable.LabelAssignment) {
		for _, a := range assignments {
			if a.Label != label {
				continue
			}
			if a.Removed {
				delete(seen, a.Node)
			} else {
				seen[a.Node] = true
			}
		}
	}
	for _, r := range s.runs {
		applyAssignments(r.Labels())
	}
	applyAssignments(s.memtable.Labels(s.maxSeq))
	return seen
}

// Nodes returns every internal node id matching filter: every known
// node id if filter has no labels, the union of each label's members
// under NodesAny, or their intersection under NodesAll.
func (s *Snapshot) Nodes(filter NodeFilter) []common.InternalNodeID {
	var seen map[common.InternalNodeID]bool

	switch {
	case len(filter.Labels) == 0:
		seen = make(map[common.InternalNodeID]bool)
		for _, e := range s.nodeIDs.Snapshot() {
			seen[e.Internal] = true
		}
	case filter.Mode == NodesAll:
		for i, label := range filter.Labels {
			members := s.membersOfLabel(label)
			if i == 0 {
				seen = members
				continue
			}
			for node := range seen {
				if !members[node] {
					delete(seen, node)
				}
			}
		}
	default: // NodesAny
		seen = make(map[common.InternalNodeID]bool)
		for _, label := range filter.Labels {
			for node := range s.membersOfLabel(label) {
				seen[node] = true
			}
		}
	}

	out := make([]common.InternalNodeID, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
