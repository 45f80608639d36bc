package compaction

import (
	"sort"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/segment"
)

// PrimaryScore is one primary value's heuristic compaction score
// (spec §4.7).
type PrimaryScore struct {
	Primary uint32
	Score   float64
}

// ScorePrimaries computes the incremental-mode selection heuristic for
// every primary touched by the L0 delta under ordering, and returns
// the ones clearing opts.MinScore, sorted by descending score and
// capped at opts.MaxPrimariesPerOrder.
func ScorePrimaries(order segment.Order, existingPages []segment.PageRecord, added, tombstoned map[common.Edge]bool, opts Options) []PrimaryScore {
	hotCount := make(map[uint32]int)
	tombPresent := make(map[uint32]bool)
	for e := range added {
		hotCount[segment.PrimaryOf(order, e)]++
	}
	for e := range tombstoned {
		p := segment.PrimaryOf(order, e)
		hotCount[p]++
		tombPresent[p] = true
	}

	pageCount := make(map[uint32]int)
	for _, rec := range existingPages {
		pageCount[rec.PrimaryValue]++
	}

	w := opts.Weights
	if w == (Weights{}) {
		w = DefaultWeights
	}

	scores := make([]PrimaryScore, 0, len(hotCount))
	for primary, hot := range hotCount {
		pages := pageCount[primary]
		tomb := 0.0
		if tombPresent[primary] {
			tomb = 1.0
		}
		pagesTerm := 0.0
		if pages > 0 {
			pagesTerm = float64(pages - 1)
		}
		score := w.Hot*float64(hot) + w.Pages*pagesTerm + w.Tomb*tomb
		if score >= opts.MinScore {
			scores = append(scores, PrimaryScore{Primary: primary, Score: score})
		}
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if opts.MaxPrimariesPerOrder > 0 && len(scores) > opts.MaxPrimariesPerOrder {
		scores = scores[:opts.MaxPrimariesPerOrder]
	}
	return scores
}
