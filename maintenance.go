package kernel

import (
	"path/filepath"
	"sort"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/segment"
)

// CheckReport is the result of Check (spec §6: `check(dbPath, {strict})
// -> {ok, errors:[PageError]}`).
type CheckReport struct {
	OK     bool
	Errors []error
}

// Check opens every ordering's pages per the current manifest and
// CRC-verifies them page by page. strict also decodes the whole
// ordering and checks that its edges come out in that ordering's sort
// order, reporting the first out-of-order position as a PageCorrupt
// that names only the ordering; it does not compare each edge against
// its page record's primary value.
func (e *Engine) Check(strict bool) (CheckReport, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	pagesPath := filepath.Join(e.dir, pagesDir)
	report := CheckReport{OK: true}

	for _, order := range segment.Orders {
		pages := e.manifest.LookupFor(order)
		if len(pages) == 0 {
			continue
		}
		reader, err := segment.OpenReader(pagesPath, order, pages)
		if err != nil {
			report.OK = false
			report.Errors = append(report.Errors, err)
			continue
		}
		if err := reader.Verify(); err != nil {
			report.OK = false
			report.Errors = append(report.Errors, err)
		}
		if strict {
			edges, err := reader.All()
			if err != nil {
				report.OK = false
				report.Errors = append(report.Errors, err)
			} else {
				for i := 1; i < len(edges); i++ {
					if segment.Less(order, edges[i], edges[i-1]) {
						report.OK = false
						report.Errors = append(report.Errors, &common.PageCorrupt{Order: string(order)})
						break
					}
				}
			}
		}
		reader.Close()
	}
	return report, nil
}

// Repair rebuilds every ordering from the SPO ordering's fact set (the
// authoritative source of truth: SPO is the ordering every edge add/
// delete validates against first), discarding any ordering whose pages
// fail Verify. fast skips orderings that already verify cleanly.
//
// A single corrupted page forces a rebuild of its whole ordering, not
// just that page: segment.BuildOrdering only ever writes a complete,
// freshly-built file (an atomic-rename rewrite), the same constraint
// that makes incremental compaction rewrite whole orderings rather
// than splice individual pages. There is no per-page patch path to
// target the one corrupted primary more narrowly.
func (e *Engine) Repair(fast bool) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	pagesPath := filepath.Join(e.dir, pagesDir)

	spoPages := e.manifest.LookupFor(segment.SPO)
	spoReader, err := segment.OpenReader(pagesPath, segment.SPO, spoPages)
	if err != nil {
		return err
	}
	facts, err := spoReader.All()
	spoReader.Close()
	if err != nil {
		return err
	}

	next := &segment.Manifest{
		Version:     e.manifest.Version,
		PageSize:    e.manifest.PageSize,
		CreatedAt:   e.manifest.CreatedAt,
		Compression: e.manifest.Compression,
		Epoch:       e.manifest.Epoch + 1,
		Lookups:     append([]segment.OrderLookup(nil), e.manifest.Lookups...),
		Tombstones:  e.manifest.Tombstones,
		Orphans:     nil,
	}

	for _, order := range segment.Orders {
		if fast {
			pages := e.manifest.LookupFor(order)
			if len(pages) > 0 {
				reader, err := segment.OpenReader(pagesPath, order, pages)
				if err == nil && reader.Verify() == nil {
					reader.Close()
					continue
				}
				if reader != nil {
					reader.Close()
				}
			}
		}
		sorted := append([]common.Edge(nil), facts...)
		sort.Slice(sorted, func(i, j int) bool { return segment.Less(order, sorted[i], sorted[j]) })
		pages, err := segment.BuildOrdering(pagesPath, order, sorted, e.opts.ColdCompression)
		if err != nil {
			return err
		}
		next.SetLookup(order, pages)
	}

	if err := next.Save(filepath.Join(pagesPath, manifestName)); err != nil {
		return err
	}
	e.manifest = next
	e.log.Db().Info().Msg("repair complete")
	return nil
}
