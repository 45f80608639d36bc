// Package pager implements the fixed-size paged file (spec §4.1, C1):
// allocate/read/write/free pages backed by a free-page bitmap and a
// meta page, exactly the teacher's btree/pager.go responsibilities
// generalized from a B-tree-private page file into the engine-wide
// page file (P.ndb) that the id index, property store, and segment
// builders all allocate pages from.
//
// Torn-page safety is the WAL's job (spec §4.1): callers must log a
// PageWrite record with the full new page image before calling Write.
package pager

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/nervusdb/kernel/common"
)

// PageSize is the fixed page size used throughout the on-disk format.
// It is the only value the spec currently allows for Options.PageSize.
const PageSize = 8192

// PageID addresses a single page within the file.
type PageID uint32

const metaPageID PageID = 0

const (
	magic       = 0x47524150 // "GRAP"
	formatEpoch = 1
)

// Meta is the content of the fixed meta page (spec §6).
type Meta struct {
	Magic           uint32
	FormatEpoch     uint32
	PageSize        uint32
	BitmapRoot      PageID
	InternerRoot    PageID
	PropertyRoot    PageID
	ManifestRevision uint64
}

const (
	metaOffMagic       = 0
	metaOffFormatEpoch = 4
	metaOffPageSize    = 8
	metaOffBitmapRoot  = 12
	metaOffInternerRoot = 16
	metaOffPropertyRoot = 20
	metaOffManifestRev  = 24
)

// Pager manages the engine's single page file: allocation via a free
// bitmap, a small LRU page cache, and the meta page.
type Pager struct {
	mu   sync.Mutex
	file *os.File
	path string

	meta Meta

	bitmap []byte // one bit per page, 1 == allocated
	numPages uint32

	cache     map[PageID]*list.Element
	lru       *list.List
	cacheSize int

	closed bool

	stats struct {
		pageReads  int64
		pageWrites int64
		cacheHits  int64
	}
}

type cacheEntry struct {
	id   PageID
	data []byte
}

// Open opens or creates the page file at path.
func Open(path string, cacheSize int) (*Pager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	p := &Pager{
		file:      file,
		path:      path,
		cache:     make(map[PageID]*list.Element),
		lru:       list.New(),
		cacheSize: cacheSize,
	}

	if stat.Size() == 0 {
		if err := p.initFresh(); err != nil {
			file.Close()
			return nil, err
		}
		return p, nil
	}

	if err := p.loadMeta(); err != nil {
		file.Close()
		return nil, err
	}
	if p.meta.FormatEpoch != formatEpoch {
		file.Close()
		return nil, common.ErrStorageFormatMismatch
	}
	if err := p.loadBitmap(); err != nil {
		file.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pager) initFresh() error {
	p.meta = Meta{
		Magic:       magic,
		FormatEpoch: formatEpoch,
		PageSize:    PageSize,
	}
	p.numPages = 2 // page 0 (meta), page 1 (bitmap)
	p.meta.BitmapRoot = 1
	p.bitmap = make([]byte, PageSize)
	// page 0 and page 1 are self-allocated
	p.setBit(0, true)
	p.setBit(1, true)
	if err := p.writeRaw(metaPageID, p.encodeMeta()); err != nil {
		return err
	}
	return p.FlushMetaAndBitmap()
}

func (p *Pager) loadMeta() error {
	data, err := p.readRaw(metaPageID)
	if err != nil {
		return err
	}
	m := Meta{
		Magic:            binary.BigEndian.Uint32(data[metaOffMagic:]),
		FormatEpoch:      binary.BigEndian.Uint32(data[metaOffFormatEpoch:]),
		PageSize:         binary.BigEndian.Uint32(data[metaOffPageSize:]),
		BitmapRoot:       PageID(binary.BigEndian.Uint32(data[metaOffBitmapRoot:])),
		InternerRoot:     PageID(binary.BigEndian.Uint32(data[metaOffInternerRoot:])),
		PropertyRoot:     PageID(binary.BigEndian.Uint32(data[metaOffPropertyRoot:])),
		ManifestRevision: binary.BigEndian.Uint64(data[metaOffManifestRev:]),
	}
	if m.Magic != magic {
		return fmt.Errorf("pager: %s is not a graph kernel page file", p.path)
	}
	p.meta = m
	return nil
}

func (p *Pager) encodeMeta() []byte {
	data := make([]byte, PageSize)
	binary.BigEndian.PutUint32(data[metaOffMagic:], p.meta.Magic)
	binary.BigEndian.PutUint32(data[metaOffFormatEpoch:], p.meta.FormatEpoch)
	binary.BigEndian.PutUint32(data[metaOffPageSize:], p.meta.PageSize)
	binary.BigEndian.PutUint32(data[metaOffBitmapRoot:], uint32(p.meta.BitmapRoot))
	binary.BigEndian.PutUint32(data[metaOffInternerRoot:], uint32(p.meta.InternerRoot))
	binary.BigEndian.PutUint32(data[metaOffPropertyRoot:], uint32(p.meta.PropertyRoot))
	binary.BigEndian.PutUint64(data[metaOffManifestRev:], p.meta.ManifestRevision)
	return data
}

func (p *Pager) loadBitmap() error {
	data, err := p.readRaw(p.meta.BitmapRoot)
	if err != nil {
		return err
	}
	p.bitmap = append([]byte(nil), data...)
	p.numPages = p.countAllocated()
	return nil
}

func (p *Pager) countAllocated() uint32 {
	var n uint32
	for pageID := uint32(0); pageID < uint32(len(p.bitmap))*8; pageID++ {
		if p.getBit(PageID(pageID)) {
			if pageID+1 > n {
				n = pageID + 1
			}
		}
	}
	return n
}

func (p *Pager) getBit(id PageID) bool {
	byteIdx := id / 8
	if int(byteIdx) >= len(p.bitmap) {
		return false
	}
	return p.bitmap[byteIdx]&(1<<(id%8)) != 0
}

func (p *Pager) setBit(id PageID, v bool) {
	byteIdx := id / 8
	for int(byteIdx) >= len(p.bitmap) {
		p.bitmap = append(p.bitmap, 0)
	}
	if v {
		p.bitmap[byteIdx] |= 1 << (id % 8)
	} else {
		p.bitmap[byteIdx] &^= 1 << (id % 8)
	}
}

// Allocate returns a fresh page id, marking it used in the bitmap.
func (p *Pager) Allocate() (PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, common.ErrClosed
	}
	for id := uint32(0); id < uint32(len(p.bitmap))*8; id++ {
		if !p.getBit(PageID(id)) {
			p.setBit(PageID(id), true)
			if id+1 > p.numPages {
				p.numPages = id + 1
			}
			return PageID(id), nil
		}
	}
	id := p.numPages
	p.setBit(PageID(id), true)
	p.numPages++
	return PageID(id), nil
}

// Read returns the bytes of page id, consulting the cache first.
func (p *Pager) Read(id PageID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, common.ErrClosed
	}
	if elem, ok := p.cache[id]; ok {
		p.lru.MoveToFront(elem)
		p.stats.cacheHits++
		entry := elem.Value.(*cacheEntry)
		out := make([]byte, len(entry.data))
		copy(out, entry.data)
		return out, nil
	}
	data, err := p.readRaw(id)
	if err != nil {
		return nil, err
	}
	p.cachePut(id, data)
	return data, nil
}

// Write persists data (which must be exactly PageSize bytes) as page id.
// Callers are responsible for WAL-logging the full page image first.
func (p *Pager) Write(id PageID, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("pager: write page %d: expected %d bytes, got %d", id, PageSize, len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return common.ErrClosed
	}
	if err := p.writeRaw(id, data); err != nil {
		return err
	}
	p.cachePut(id, data)
	if uint32(id)+1 > p.numPages {
		p.numPages = uint32(id) + 1
	}
	return nil
}

// Free returns a page to the bitmap, making it available for reuse.
func (p *Pager) Free(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return common.ErrClosed
	}
	p.setBit(id, false)
	if elem, ok := p.cache[id]; ok {
		p.lru.Remove(elem)
		delete(p.cache, id)
	}
	return nil
}

// FlushMetaAndBitmap persists the meta page and the bitmap page(s).
// Ordinary data page durability is the WAL's responsibility; this call
// only guarantees metadata is at least as new as the last checkpoint.
func (p *Pager) FlushMetaAndBitmap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return common.ErrClosed
	}
	bitmapPadded := make([]byte, PageSize)
	copy(bitmapPadded, p.bitmap)
	if err := p.writeRaw(p.meta.BitmapRoot, bitmapPadded); err != nil {
		return err
	}
	if err := p.writeRaw(metaPageID, p.encodeMeta()); err != nil {
		return err
	}
	return p.file.Sync()
}

// SetRoots updates the interner/property root pointers recorded in meta.
func (p *Pager) SetRoots(internerRoot, propertyRoot PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta.InternerRoot = internerRoot
	p.meta.PropertyRoot = propertyRoot
}

// Roots returns the current interner/property root pointers.
func (p *Pager) Roots() (interner, property PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta.InternerRoot, p.meta.PropertyRoot
}

// SetManifestRevision records the manifest revision in the meta page.
func (p *Pager) SetManifestRevision(rev uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta.ManifestRevision = rev
}

func (p *Pager) ManifestRevision() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta.ManifestRevision
}

func (p *Pager) readRaw(id PageID) ([]byte, error) {
	data := make([]byte, PageSize)
	n, err := p.file.ReadAt(data, int64(id)*PageSize)
	if err != nil {
		return nil, fmt.Errorf("pager: read page %d: %w", id, err)
	}
	if n != PageSize {
		return nil, fmt.Errorf("pager: short read on page %d", id)
	}
	p.stats.pageReads++
	return data, nil
}

func (p *Pager) writeRaw(id PageID, data []byte) error {
	_, err := p.file.WriteAt(data, int64(id)*PageSize)
	if err != nil {
		return fmt.Errorf("pager: write page %d: %w", id, err)
	}
	p.stats.pageWrites++
	return nil
}

func (p *Pager) cachePut(id PageID, data []byte) {
	if p.cacheSize <= 0 {
		return
	}
	if elem, ok := p.cache[id]; ok {
		p.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).data = data
		return
	}
	elem := p.lru.PushFront(&cacheEntry{id: id, data: data})
	p.cache[id] = elem
	for p.lru.Len() > p.cacheSize {
		back := p.lru.Back()
		if back == nil {
			break
		}
		p.lru.Remove(back)
		delete(p.cache, back.Value.(*cacheEntry).id)
	}
}

// Stats returns cache/IO counters for metrics reporting.
func (p *Pager) Stats() (reads, writes, cacheHits int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.pageReads, p.stats.pageWrites, p.stats.cacheHits
}

// NumPages returns the current high-water page count.
func (p *Pager) NumPages() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numPages
}

// Close closes the underlying file. It does not write the meta page or
// the bitmap; FlushMetaAndBitmap does that.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.file.Close()
}
