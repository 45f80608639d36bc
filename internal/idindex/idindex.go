// Package idindex implements the persisted snapshot of the external-id
// to internal-node-id mapping (spec §4.3): "periodically snapshotted
// into a compact on-disk table at checkpoint... the on-open rebuild
// reads the snapshot then replays the WAL tail."
//
// Because the table is rewritten wholesale at every checkpoint rather
// than mutated in place, this is a bulk-built, read-only page chain
// rather than the teacher's mutable B+tree (btree/btree.go's
// insert/split/merge machinery has no job here: there is never a
// single-key insert against the on-disk form, only a full rebuild).
// What's kept from the teacher is the page framing idiom: a small
// fixed-size header, a packed array of fixed-width cells, and a
// trailing CRC32 — the same shape as btree/page.go's leaf cells,
// applied to a directory-of-leaves layout instead of a balanced tree.
package idindex

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/pager"
)

// Entry is one external->internal id mapping.
type Entry struct {
	External common.ExternalID
	Internal common.InternalNodeID
}

const entrySize = 8 + 4 // external u64 + internal u32

// leaf page payload: [count u32][entries...][crc32 u32 at page end]
const leafHeaderSize = 4
const crcSize = 4
const leafCapacity = (pager.PageSize - leafHeaderSize - crcSize) / entrySize

// directory page payload: [count u32][nextDir u32][firstExternal u64, leaf pageID u32]*...[crc32]
// the page header carries a "next" directory page pointer so one
// directory page can chain to more when needed; a single directory
// page holds up to dirCapacity (681) leaves of leafCapacity (682)
// entries each, about 464,000 nodes.
const dirEntrySize = 8 + 4 // firstExternal u64 + leaf pageID u32
const dirHeaderSize = 4 + 4 // count u32 + nextDir pageID u32
const dirCapacity = (pager.PageSize - dirHeaderSize - crcSize) / dirEntrySize

// Table is the in-memory, loaded form of the persisted snapshot plus
// the root page id it was last written at.
type Table struct {
	entries []Entry // sorted by External
	root    pager.PageID
}

// Empty returns a Table with no root page yet (fresh database).
func Empty() *Table { return &Table{} }

// Root returns the directory root page id, or 0 if never persisted.
func (t *Table) Root() pager.PageID { return t.root }

// Lookup finds the internal id for an external id via binary search.
func (t *Table) Lookup(ext common.ExternalID) (common.InternalNodeID, bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].External >= ext })
	if i < len(t.entries) && t.entries[i].External == ext {
		return t.entries[i].Internal, true
	}
	return 0, false
}

// All returns the full sorted entry set (used by Rebuild and by the
// engine to seed the in-memory reverse vector on open).
func (t *Table) All() []Entry { return t.entries }

// Rebuild bulk-writes entries (which must be sorted by External) as a
// fresh chain of leaf pages plus a directory, allocating new pages from
// p. It never reuses the previous root's pages — the caller is
// responsible for freeing the old chain once no reader needs it.
func Rebuild(p *pager.Pager, entries []Entry) (*Table, error) {
	leafPageIDs := make([]pager.PageID, 0)
	firstExternals := make([]common.ExternalID, 0)

	for start := 0; start < len(entries); start += leafCapacity {
		end := start + leafCapacity
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]
		id, err := p.Allocate()
		if err != nil {
			return nil, err
		}
		if err := p.Write(id, encodeLeaf(chunk)); err != nil {
			return nil, err
		}
		leafPageIDs = append(leafPageIDs, id)
		firstExternals = append(firstExternals, chunk[0].External)
	}

	root, err := writeDirectory(p, firstExternals, leafPageIDs)
	if err != nil {
		return nil, err
	}

	return &Table{entries: append([]Entry(nil), entries...), root: root}, nil
}

func writeDirectory(p *pager.Pager, firstExternals []common.ExternalID, leafPageIDs []pager.PageID) (pager.PageID, error) {
	if len(leafPageIDs) == 0 {
		id, err := p.Allocate()
		if err != nil {
			return 0, err
		}
		if err := p.Write(id, encodeDirectory(nil, nil, 0)); err != nil {
			return 0, err
		}
		return id, nil
	}

	var nextDir pager.PageID
	var rootID pager.PageID
	for start := len(leafPageIDs); start > 0; {
		end := start
		begin := end - dirCapacity
		if begin < 0 {
			begin = 0
		}
		id, err := p.Allocate()
		if err != nil {
			return 0, err
		}
		if err := p.Write(id, encodeDirectory(firstExternals[begin:end], leafPageIDs[begin:end], nextDir)); err != nil {
			return 0, err
		}
		nextDir = id
		rootID = id
		start = begin
	}
	return rootID, nil
}

// Load reads the directory chain rooted at root and every leaf it
// references, verifying every page's CRC32 (spec invariant 5) and
// returning an IdIndex PageCorrupt-wrapped error on mismatch.
func Load(p *pager.Pager, root pager.PageID) (*Table, error) {
	var entries []Entry
	dirID := root
	for {
		data, err := p.Read(dirID)
		if err != nil {
			return nil, err
		}
		leafIDs, nextDir, err := decodeDirectory(data, dirID)
		if err != nil {
			return nil, err
		}
		for _, leafID := range leafIDs {
			leafData, err := p.Read(leafID)
			if err != nil {
				return nil, err
			}
			leafEntries, err := decodeLeaf(leafData, leafID)
			if err != nil {
				return nil, err
			}
			entries = append(entries, leafEntries...)
		}
		if nextDir == 0 {
			break
		}
		dirID = nextDir
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].External < entries[j].External })
	return &Table{entries: entries, root: root}, nil
}

func encodeLeaf(chunk []Entry) []byte {
	buf := make([]byte, pager.PageSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(chunk)))
	off := leafHeaderSize
	for _, e := range chunk {
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(e.External))
		binary.BigEndian.PutUint32(buf[off+8:off+12], uint32(e.Internal))
		off += entrySize
	}
	crc := crc32.ChecksumIEEE(buf[:pager.PageSize-crcSize])
	binary.BigEndian.PutUint32(buf[pager.PageSize-crcSize:], crc)
	return buf
}

func decodeLeaf(buf []byte, id pager.PageID) ([]Entry, error) {
	if err := verifyCRC(buf, "idindex-leaf", uint64(id)); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(buf[0:4])
	entries := make([]Entry, 0, count)
	off := leafHeaderSize
	for i := uint32(0); i < count; i++ {
		ext := common.ExternalID(binary.BigEndian.Uint64(buf[off : off+8]))
		internal := common.InternalNodeID(binary.BigEndian.Uint32(buf[off+8 : off+12]))
		entries = append(entries, Entry{External: ext, Internal: internal})
		off += entrySize
	}
	return entries, nil
}

func encodeDirectory(firstExternals []common.ExternalID, leafIDs []pager.PageID, next pager.PageID) []byte {
	buf := make([]byte, pager.PageSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(leafIDs)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(next))
	off := dirHeaderSize
	for i := range leafIDs {
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(firstExternals[i]))
		binary.BigEndian.PutUint32(buf[off+8:off+12], uint32(leafIDs[i]))
		off += dirEntrySize
	}
	crc := crc32.ChecksumIEEE(buf[:pager.PageSize-crcSize])
	binary.BigEndian.PutUint32(buf[pager.PageSize-crcSize:], crc)
	return buf
}

func decodeDirectory(buf []byte, id pager.PageID) ([]pager.PageID, pager.PageID, error) {
	if err := verifyCRC(buf, "idindex-dir", uint64(id)); err != nil {
		return nil, 0, err
	}
	count := binary.BigEndian.Uint32(buf[0:4])
	next := pager.PageID(binary.BigEndian.Uint32(buf[4:8]))
	leafIDs := make([]pager.PageID, 0, count)
	off := dirHeaderSize
	for i := uint32(0); i < count; i++ {
		leafID := pager.PageID(binary.BigEndian.Uint32(buf[off+8 : off+12]))
		leafIDs = append(leafIDs, leafID)
		off += dirEntrySize
	}
	return leafIDs, next, nil
}

func verifyCRC(buf []byte, order string, primary uint64) error {
	want := binary.BigEndian.Uint32(buf[pager.PageSize-crcSize:])
	got := crc32.ChecksumIEEE(buf[:pager.PageSize-crcSize])
	if want != got {
		return fmt.Errorf("idindex: %w", &common.PageCorrupt{
			Order: order, PrimaryValue: primary, ExpectedCRC: want, ActualCRC: got,
		})
	}
	return nil
}
