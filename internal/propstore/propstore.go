// Package propstore implements the property overlay (spec §4.4, C4):
// node properties keyed by InternalNodeID, edge properties keyed by the
// full (src, type, dst) triple. The in-memory overlay holds recent
// writes; Flush compacts it into a sorted, CRC-checked on-disk form
// modeled on the teacher's lsm/sstable_builder.go (a single forward
// pass over sorted keys, length-prefixed framing, no random writes).
//
// Deletion is an explicit null-tombstone in the overlay (spec §4.4);
// Flush drops any key whose latest value is the tombstone.
package propstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
	"sync"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/binfmt"
	"github.com/nervusdb/kernel/internal/value"
)

// NodeKey identifies a node property.
type NodeKey struct {
	Node common.InternalNodeID
	Key  string
}

// EdgeKey identifies an edge property.
type EdgeKey struct {
	Edge common.Edge
	Key  string
}

// Store is the property overlay plus its on-disk backing file.
type Store struct {
	mu        sync.RWMutex
	nodeOverlay map[NodeKey]value.Value
	edgeOverlay map[EdgeKey]value.Value

	path string // on-disk compacted form, rewritten wholesale on Flush
	disk *diskTable
}

// Open loads the on-disk property table (if any) and starts with an
// empty overlay.
func Open(path string) (*Store, error) {
	s := &Store{
		nodeOverlay: make(map[NodeKey]value.Value),
		edgeOverlay: make(map[EdgeKey]value.Value),
		path:        path,
	}
	disk, err := loadDiskTable(path)
	if err != nil {
		return nil, err
	}
	s.disk = disk
	return s, nil
}

// SetNodeProperty installs a property write in the overlay. A v of
// value.Null() represents deletion. Returns common.PayloadTooLarge if
// the encoded value exceeds value.MaxValueSize.
func (s *Store) SetNodeProperty(node common.InternalNodeID, key string, v value.Value) error {
	if _, err := value.Encode(v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeOverlay[NodeKey{Node: node, Key: key}] = v
	return nil
}

// SetEdgeProperty installs an edge property write in the overlay.
func (s *Store) SetEdgeProperty(e common.Edge, key string, v value.Value) error {
	if _, err := value.Encode(v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edgeOverlay[EdgeKey{Edge: e, Key: key}] = v
	return nil
}

// NodeProperty reads overlay-then-disk, skipping a tombstoned value.
func (s *Store) NodeProperty(node common.InternalNodeID, key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.nodeOverlay[NodeKey{Node: node, Key: key}]; ok {
		if v.IsNull() {
			return value.Value{}, false
		}
		return v, true
	}
	if s.disk != nil {
		if v, ok := s.disk.nodeProps[NodeKey{Node: node, Key: key}]; ok {
			return v, true
		}
	}
	return value.Value{}, false
}

// EdgeProperty reads overlay-then-disk, skipping a tombstoned value.
func (s *Store) EdgeProperty(e common.Edge, key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.edgeOverlay[EdgeKey{Edge: e, Key: key}]; ok {
		if v.IsNull() {
			return value.Value{}, false
		}
		return v, true
	}
	if s.disk != nil {
		if v, ok := s.disk.edgeProps[EdgeKey{Edge: e, Key: key}]; ok {
			return v, true
		}
	}
	return value.Value{}, false
}

// Clone returns an independent copy of the store's current overlay and
// disk-table state, suitable for pinning to a Snapshot: later writes to
// the original Store (including a checkpoint folding new properties in)
// never become visible through the clone.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodeOverlay := make(map[NodeKey]value.Value, len(s.nodeOverlay))
	for k, v := range s.nodeOverlay {
		nodeOverlay[k] = v
	}
	edgeOverlay := make(map[EdgeKey]value.Value, len(s.edgeOverlay))
	for k, v := range s.edgeOverlay {
		edgeOverlay[k] = v
	}
	var disk *diskTable
	if s.disk != nil {
		disk = &diskTable{
			nodeProps: make(map[NodeKey]value.Value, len(s.disk.nodeProps)),
			edgeProps: make(map[EdgeKey]value.Value, len(s.disk.edgeProps)),
		}
		for k, v := range s.disk.nodeProps {
			disk.nodeProps[k] = v
		}
		for k, v := range s.disk.edgeProps {
			disk.edgeProps[k] = v
		}
	}
	return &Store{nodeOverlay: nodeOverlay, edgeOverlay: edgeOverlay, path: s.path, disk: disk}
}

// Flush merges the overlay into the disk table and rewrites it
// wholesale (spec §4.4: "durable state lives in a segment-style
// on-disk structure written at compaction"). Tombstoned keys are
// dropped rather than carried forward.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := &diskTable{
		nodeProps: make(map[NodeKey]value.Value),
		edgeProps: make(map[EdgeKey]value.Value),
	}
	if s.disk != nil {
		for k, v := range s.disk.nodeProps {
			merged.nodeProps[k] = v
		}
		for k, v := range s.disk.edgeProps {
			merged.edgeProps[k] = v
		}
	}
	for k, v := range s.nodeOverlay {
		if v.IsNull() {
			delete(merged.nodeProps, k)
		} else {
			merged.nodeProps[k] = v
		}
	}
	for k, v := range s.edgeOverlay {
		if v.IsNull() {
			delete(merged.edgeProps, k)
		} else {
			merged.edgeProps[k] = v
		}
	}

	if err := merged.writeTo(s.path); err != nil {
		return err
	}
	s.disk = merged
	s.nodeOverlay = make(map[NodeKey]value.Value)
	s.edgeOverlay = make(map[EdgeKey]value.Value)
	return nil
}

// diskTable is the flushed, CRC-checked on-disk representation.
type diskTable struct {
	nodeProps map[NodeKey]value.Value
	edgeProps map[EdgeKey]value.Value
}

// On-disk format: [magic u32][crc32 of body][count uvarint][records...]
// node record:  0x01 [node u32][key][value]
// edge record:  0x02 [src u32][type u32][dst u32][key][value]
const propTableMagic = 0x50524f50 // "PROP"

func loadDiskTable(path string) (*diskTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &diskTable{nodeProps: map[NodeKey]value.Value{}, edgeProps: map[EdgeKey]value.Value{}}, nil
		}
		return nil, err
	}
	if len(data) < 9 {
		return nil, fmt.Errorf("propstore: %s truncated", path)
	}
	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != propTableMagic {
		return nil, fmt.Errorf("propstore: %s: %w", path, common.ErrManifestUnreadable)
	}
	crc := binary.BigEndian.Uint32(data[4:8])
	body := data[8:]
	if crc32.ChecksumIEEE(body) != crc {
		return nil, fmt.Errorf("propstore: %s: %w", path, common.ErrManifestUnreadable)
	}

	t := &diskTable{nodeProps: map[NodeKey]value.Value{}, edgeProps: map[EdgeKey]value.Value{}}
	count, n := binfmt.Uvarint(body)
	off := n
	for i := uint64(0); i < count; i++ {
		kind := body[off]
		off++
		switch kind {
		case 0x01:
			node := binary.BigEndian.Uint32(body[off : off+4])
			off += 4
			key, kn, err := decodeString(body[off:])
			if err != nil {
				return nil, err
			}
			off += kn
			v, vn, err := value.Decode(body[off:])
			if err != nil {
				return nil, err
			}
			off += vn
			t.nodeProps[NodeKey{Node: common.InternalNodeID(node), Key: key}] = v
		case 0x02:
			src := binary.BigEndian.Uint32(body[off : off+4])
			typ := binary.BigEndian.Uint32(body[off+4 : off+8])
			dst := binary.BigEndian.Uint32(body[off+8 : off+12])
			off += 12
			key, kn, err := decodeString(body[off:])
			if err != nil {
				return nil, err
			}
			off += kn
			v, vn, err := value.Decode(body[off:])
			if err != nil {
				return nil, err
			}
			off += vn
			e := common.Edge{Src: common.InternalNodeID(src), Type: common.InternedID(typ), Dst: common.InternalNodeID(dst)}
			t.edgeProps[EdgeKey{Edge: e, Key: key}] = v
		default:
			return nil, fmt.Errorf("propstore: unknown record kind %d: %w", kind, common.ErrManifestUnreadable)
		}
	}
	return t, nil
}

func (t *diskTable) writeTo(path string) error {
	body := make([]byte, 0, 1024)
	var tmp [binfmt.MaxVarintLen]byte
	n := binfmt.PutUvarint(tmp[:], uint64(len(t.nodeProps)+len(t.edgeProps)))
	body = append(body, tmp[:n]...)

	// sort keys for deterministic output (helps tests and diffability).
	nodeKeys := make([]NodeKey, 0, len(t.nodeProps))
	for k := range t.nodeProps {
		nodeKeys = append(nodeKeys, k)
	}
	sort.Slice(nodeKeys, func(i, j int) bool {
		if nodeKeys[i].Node != nodeKeys[j].Node {
			return nodeKeys[i].Node < nodeKeys[j].Node
		}
		return nodeKeys[i].Key < nodeKeys[j].Key
	})
	for _, k := range nodeKeys {
		body = append(body, 0x01)
		var nb [4]byte
		binary.BigEndian.PutUint32(nb[:], uint32(k.Node))
		body = append(body, nb[:]...)
		body = appendString(body, k.Key)
		enc, err := value.Encode(t.nodeProps[k])
		if err != nil {
			return err
		}
		body = append(body, enc...)
	}

	edgeKeys := make([]EdgeKey, 0, len(t.edgeProps))
	for k := range t.edgeProps {
		edgeKeys = append(edgeKeys, k)
	}
	sort.Slice(edgeKeys, func(i, j int) bool {
		if edgeKeys[i].Edge != edgeKeys[j].Edge {
			return edgeKeys[i].Edge.Less(edgeKeys[j].Edge)
		}
		return edgeKeys[i].Key < edgeKeys[j].Key
	})
	for _, k := range edgeKeys {
		body = append(body, 0x02)
		var eb [12]byte
		binary.BigEndian.PutUint32(eb[0:4], uint32(k.Edge.Src))
		binary.BigEndian.PutUint32(eb[4:8], uint32(k.Edge.Type))
		binary.BigEndian.PutUint32(eb[8:12], uint32(k.Edge.Dst))
		body = append(body, eb[:]...)
		body = appendString(body, k.Key)
		enc, err := value.Encode(t.edgeProps[k])
		if err != nil {
			return err
		}
		body = append(body, enc...)
	}

	out := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], propTableMagic)
	binary.BigEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(body))
	out = append(out, body...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func appendString(buf []byte, s string) []byte {
	var tmp [binfmt.MaxVarintLen]byte
	n := binfmt.PutUvarint(tmp[:], uint64(len(s)))
	buf = append(buf, tmp[:n]...)
	return append(buf, s...)
}

func decodeString(buf []byte) (string, int, error) {
	l, n := binfmt.Uvarint(buf)
	if n <= 0 {
		return "", 0, fmt.Errorf("propstore: truncated string length")
	}
	if uint64(len(buf)-n) < l {
		return "", 0, fmt.Errorf("propstore: truncated string")
	}
	return string(buf[n : uint64(n)+l]), n + int(l), nil
}
