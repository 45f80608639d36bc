package segment

import (
	"github.com/nervusdb/kernel/common"
)

// maxEdgesPerPage caps the uncompressed page payload to roughly one
// pager page's worth of bytes ([count u32] + 12 bytes/edge), even
// though segment pages are independently sized (spec §6: "pages are
// variable-length because of compression"). Capping page size bounds
// how much a single corrupt page can cost a reader.
const maxEdgesPerPage = (8192 - 4) / 12

// BuildOrdering writes a complete fresh segment file for order from a
// fully sorted, deduplicated edge slice (rewrite-mode compaction's
// output), splitting each primary's run into one or more pages of at
// most maxEdgesPerPage edges.
func BuildOrdering(dir string, order Order, sorted []common.Edge, compression Compression) ([]PageRecord, error) {
	w, err := NewWriter(dir, order, compression)
	if err != nil {
		return nil, err
	}

	i := 0
	for i < len(sorted) {
		primary := PrimaryOf(order, sorted[i])
		j := i
		for j < len(sorted) && PrimaryOf(order, sorted[j]) == primary {
			j++
		}
		for start := i; start < j; start += maxEdgesPerPage {
			end := start + maxEdgesPerPage
			if end > j {
				end = j
			}
			if err := w.WritePrimaryGroup(primary, sorted[start:end]); err != nil {
				w.Abandon()
				return nil, err
			}
		}
		i = j
	}

	return w.Finish()
}
