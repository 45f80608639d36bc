package segment

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/nervusdb/kernel/common"
)

// Writer builds a fresh segment file for one ordering in a single
// forward pass over primaries sorted ascending (spec §4.7 rewrite
// mode: "sort, repack into fresh pages ... write to <order>.pages.tmp,
// fsync, atomically rename over the old file").
type Writer struct {
	order       Order
	path        string
	tmpPath     string
	file        *os.File
	offset      int64
	compression Compression
	pages       []PageRecord
}

// NewWriter opens <order>.pages.tmp under dir for writing.
func NewWriter(dir string, order Order, compression Compression) (*Writer, error) {
	path := filepath.Join(dir, order.FileName())
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Writer{order: order, path: path, tmpPath: tmpPath, file: f, compression: compression}, nil
}

// WritePrimaryGroup writes edges sharing the same primary value as a
// single page; it does not split a large group. BuildOrdering passes
// groups of at most maxEdgesPerPage edges.
func (w *Writer) WritePrimaryGroup(primary uint32, edges []common.Edge) error {
	rec, err := writePage(w.file, w.offset, primary, edges, w.compression)
	if err != nil {
		return err
	}
	w.offset += rec.Length
	w.pages = append(w.pages, rec)
	return nil
}

// Pages returns the page records written so far, in write order (which
// is primary-ascending by construction).
func (w *Writer) Pages() []PageRecord { return w.pages }

// Finish fsyncs and atomically renames the temp file over the previous
// segment file, returning the written page list for the manifest.
func (w *Writer) Finish() ([]PageRecord, error) {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return nil, err
	}
	if err := w.file.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return nil, err
	}
	return w.pages, nil
}

// Abandon closes and discards the temp file without renaming it.
func (w *Writer) Abandon() {
	w.file.Close()
	os.Remove(w.tmpPath)
}

// Reader serves point and range lookups against an already-written
// segment file plus its manifest page list.
type Reader struct {
	order Order
	file  *os.File
	pages []PageRecord // sorted by PrimaryValue
}

// OpenReader opens the segment file for order under dir.
func OpenReader(dir string, order Order, pages []PageRecord) (*Reader, error) {
	path := filepath.Join(dir, order.FileName())
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Reader{order: order, pages: pages}, nil
		}
		return nil, err
	}
	sorted := append([]PageRecord(nil), pages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PrimaryValue < sorted[j].PrimaryValue })
	return &Reader{order: order, file: f, pages: sorted}, nil
}

// Lookup returns every edge stored under primary value v, decoded from
// every page whose PrimaryValue equals v.
func (r *Reader) Lookup(v uint32) ([]common.Edge, error) {
	if r.file == nil {
		return nil, nil
	}
	matches := PagesForPrimary(r.pages, v)
	var out []common.Edge
	for _, rec := range matches {
		edges, err := readPage(r.file, r.order, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}

// All decodes every page in primary order, used by rewrite-mode
// compaction to read the full prior contents of an ordering.
func (r *Reader) All() ([]common.Edge, error) {
	if r.file == nil {
		return nil, nil
	}
	var out []common.Edge
	for _, rec := range r.pages {
		edges, err := readPage(r.file, r.order, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}

// DecodePages decodes exactly the given pages (which must belong to
// this reader's file), used by GC to rebuild an ordering while
// omitting orphaned pages.
func (r *Reader) DecodePages(pages []PageRecord) ([]common.Edge, error) {
	if r.file == nil {
		return nil, nil
	}
	var out []common.Edge
	for _, rec := range pages {
		edges, err := readPage(r.file, r.order, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}

// Verify decodes and CRC-checks every page without returning the
// decoded edges, used by the check/repair maintenance entry points.
func (r *Reader) Verify() error {
	if r.file == nil {
		return nil
	}
	for _, rec := range r.pages {
		if _, err := readPage(r.file, r.order, rec); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
