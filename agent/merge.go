package agent

import (
	"sort"

	"github.com/sweetpotato0/transcriptqa/store"
)

// BoostFactor is the multiplicative weight added per extra occurrence of a
// chunk across sub-query results.
const BoostFactor = 0.2

type mergeEntry struct {
	best  store.ChunkHit
	count int
	score float64 // highest observed score
}

// Merge deduplicates sub-query results by chunk ID. A chunk appearing in k
// result lists with highest observed score s gets the merged score
// s * (1 + BoostFactor * (k - 1)). Output is sorted by merged score
// descending, chunk ID ascending on ties, cut to maxReturned.
func Merge(resultsBySubquery [][]store.ChunkHit, maxReturned int) ([]store.ChunkHit, DedupStats) {
	stats := DedupStats{}
	entries := make(map[int64]*mergeEntry)

	for _, results := range resultsBySubquery {
		seen := make(map[int64]bool, len(results))
		for _, hit := range results {
			stats.TotalBeforeDedup++
			e, ok := entries[hit.ChunkID]
			if !ok {
				entries[hit.ChunkID] = &mergeEntry{best: hit, count: 1, score: hit.Score}
				seen[hit.ChunkID] = true
				continue
			}
			if hit.Score > e.score {
				e.score = hit.Score
				e.best = hit
			}
			// A chunk counts once per sub-query list it appears in.
			if !seen[hit.ChunkID] {
				e.count++
				seen[hit.ChunkID] = true
			}
		}
	}

	merged := make([]store.ChunkHit, 0, len(entries))
	for _, e := range entries {
		if e.count > stats.MaxOccurrences {
			stats.MaxOccurrences = e.count
		}
		if e.count > 1 {
			stats.ChunksBoosted++
		}
		hit := e.best
		hit.Score = e.score * (1 + BoostFactor*float64(e.count-1))
		merged = append(merged, hit)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ChunkID < merged[j].ChunkID
	})

	stats.UniqueChunks = len(merged)
	stats.DuplicatesRemoved = stats.TotalBeforeDedup - stats.UniqueChunks
	if maxReturned > 0 && len(merged) > maxReturned {
		merged = merged[:maxReturned]
	}
	stats.ChunksReturned = len(merged)
	return merged, stats
}
