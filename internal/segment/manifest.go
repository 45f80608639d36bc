// Package segment implements the CSR segment files (spec §4.6, C7):
// six sort orderings of the edge set (SPO, SOP, POS, PSO, OSP, OPS),
// each a file of concatenated, optionally Brotli-compressed, CRC32-
// checked pages, indexed by a JSON manifest written through a
// temp-file-plus-rename, the same durability idiom the teacher uses
// for its SSTable footers and the WAL's dedupe sidecar.
package segment

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/nervusdb/kernel/common"
)

// Order identifies one of the six CSR sort orderings. The first
// component named is the primary key pages are grouped by.
type Order string

const (
	SPO Order = "SPO"
	SOP Order = "SOP"
	POS Order = "POS"
	PSO Order = "PSO"
	OSP Order = "OSP"
	OPS Order = "OPS"
)

// Orders lists every ordering in a stable, deterministic sequence.
var Orders = []Order{SPO, SOP, POS, PSO, OSP, OPS}

// FileName returns the on-disk segment file name for an ordering.
func (o Order) FileName() string { return string(o) + ".pages" }

// PrimaryOf extracts the primary-key component of e under ordering o.
func PrimaryOf(o Order, e common.Edge) uint32 {
	switch o {
	case SPO, SOP:
		return uint32(e.Src)
	case POS, PSO:
		return uint32(e.Type)
	case OSP, OPS:
		return uint32(e.Dst)
	}
	return 0
}

// Less orders two edges under ordering o (primary, then secondary,
// then tertiary component, matching the component sequence the
// ordering's name spells out).
func Less(o Order, a, b common.Edge) bool {
	ak, bk := components(o, a), components(o, b)
	for i := range ak {
		if ak[i] != bk[i] {
			return ak[i] < bk[i]
		}
	}
	return false
}

func components(o Order, e common.Edge) [3]uint32 {
	switch o {
	case SPO:
		return [3]uint32{uint32(e.Src), uint32(e.Type), uint32(e.Dst)}
	case SOP:
		return [3]uint32{uint32(e.Src), uint32(e.Dst), uint32(e.Type)}
	case POS:
		return [3]uint32{uint32(e.Type), uint32(e.Dst), uint32(e.Src)}
	case PSO:
		return [3]uint32{uint32(e.Type), uint32(e.Src), uint32(e.Dst)}
	case OSP:
		return [3]uint32{uint32(e.Dst), uint32(e.Src), uint32(e.Type)}
	case OPS:
		return [3]uint32{uint32(e.Dst), uint32(e.Type), uint32(e.Src)}
	}
	return [3]uint32{}
}

// PageRecord is one page entry in the manifest's per-ordering page list.
type PageRecord struct {
	PrimaryValue uint32 `json:"primaryValue"`
	Offset       int64  `json:"offset"`
	Length       int64  `json:"length"`
	RawLength    int64  `json:"rawLength"`
	CRC32        uint32 `json:"crc32"`
}

// OrderLookup is the page list for a single ordering.
type OrderLookup struct {
	Order Order        `json:"order"`
	Pages []PageRecord `json:"pages"`
}

// Compression names the codec and level used for newly written pages.
type Compression struct {
	Codec string `json:"codec"` // "none" | "brotli"
	Level int    `json:"level"`
}

// OrphanSet is the pending-GC page list for one ordering. GC reclaims
// the sets a loaded manifest lists; no compaction pass in this module
// adds any.
type OrphanSet struct {
	Order Order        `json:"order"`
	Pages []PageRecord `json:"pages"`
}

// Manifest is the authoritative index of every segment page plus the
// global tombstone and orphan lists (spec §6).
type Manifest struct {
	Version     int           `json:"version"`
	PageSize    int           `json:"pageSize"`
	CreatedAt   time.Time     `json:"createdAt"`
	Compression Compression   `json:"compression"`
	Epoch       uint64        `json:"epoch"`
	Lookups     []OrderLookup `json:"lookups"`
	Tombstones  [][3]uint32   `json:"tombstones"`
	Orphans     []OrphanSet   `json:"orphans"`
}

// Empty returns a fresh manifest with an empty page list for every
// ordering, ready for a first compaction.
func Empty(compression Compression) *Manifest {
	m := &Manifest{
		Version:     1,
		PageSize:    8192,
		Compression: compression,
		Epoch:       0,
		Lookups:     make([]OrderLookup, 0, len(Orders)),
	}
	for _, o := range Orders {
		m.Lookups = append(m.Lookups, OrderLookup{Order: o, Pages: nil})
	}
	return m
}

// LookupFor returns the page list for o, or nil if absent.
func (m *Manifest) LookupFor(o Order) []PageRecord {
	for _, l := range m.Lookups {
		if l.Order == o {
			return l.Pages
		}
	}
	return nil
}

// SetLookup replaces the page list for o.
func (m *Manifest) SetLookup(o Order, pages []PageRecord) {
	for i := range m.Lookups {
		if m.Lookups[i].Order == o {
			m.Lookups[i].Pages = pages
			return
		}
	}
	m.Lookups = append(m.Lookups, OrderLookup{Order: o, Pages: pages})
}

// PagesForPrimary binary-searches a sorted page list for every page
// whose PrimaryValue equals v (a primary may span several pages).
func PagesForPrimary(pages []PageRecord, v uint32) []PageRecord {
	lo := sort.Search(len(pages), func(i int) bool { return pages[i].PrimaryValue >= v })
	hi := lo
	for hi < len(pages) && pages[hi].PrimaryValue == v {
		hi++
	}
	return pages[lo:hi]
}

// HasTombstone reports whether (s, p, o) is listed as a tombstone.
func (m *Manifest) HasTombstone(e common.Edge) bool {
	target := [3]uint32{uint32(e.Src), uint32(e.Type), uint32(e.Dst)}
	for _, t := range m.Tombstones {
		if t == target {
			return true
		}
	}
	return false
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, common.ErrManifestUnreadable
	}
	return &m, nil
}

// Save writes the manifest atomically via a temp file plus rename.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
