package agent

import (
	"math"
	"reflect"
	"testing"

	"github.com/sweetpotato0/transcriptqa/store"
)

func chunk(id int64, score float64) store.ChunkHit {
	return store.ChunkHit{ChunkID: id, DocID: 1, Text: "t", Score: score}
}

func TestMergeBoostsRepeatedChunk(t *testing.T) {
	// Chunk 7 appears in two sub-query lists with scores 0.6 and 0.8:
	// merged score is 0.8 * (1 + 0.2) = 0.96.
	merged, stats := Merge([][]store.ChunkHit{
		{chunk(7, 0.6)},
		{chunk(7, 0.8)},
	}, 15)

	if len(merged) != 1 {
		t.Fatalf("expected 1 merged chunk, got %d", len(merged))
	}
	if math.Abs(merged[0].Score-0.96) > 1e-9 {
		t.Fatalf("expected boosted score 0.96, got %v", merged[0].Score)
	}
	want := DedupStats{
		TotalBeforeDedup:  2,
		UniqueChunks:      1,
		DuplicatesRemoved: 1,
		ChunksBoosted:     1,
		MaxOccurrences:    2,
		ChunksReturned:    1,
	}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}

func TestMergeIdenticalListsScaleByFanout(t *testing.T) {
	// k identical sub-query lists: every score scales by (1 + 0.2*(k-1)).
	list := []store.ChunkHit{chunk(1, 0.5), chunk(2, 0.4)}
	k := 3
	input := make([][]store.ChunkHit, k)
	for i := range input {
		input[i] = list
	}

	merged, stats := Merge(input, 15)
	factor := 1 + BoostFactor*float64(k-1)
	for i, m := range merged {
		if math.Abs(m.Score-list[i].Score*factor) > 1e-9 {
			t.Fatalf("chunk %d score = %v, want %v", m.ChunkID, m.Score, list[i].Score*factor)
		}
	}
	if stats.MaxOccurrences != k {
		t.Fatalf("max occurrences = %d, want %d", stats.MaxOccurrences, k)
	}
}

func TestMergeOrderingAndCut(t *testing.T) {
	merged, stats := Merge([][]store.ChunkHit{
		{chunk(5, 0.9), chunk(3, 0.7)},
		{chunk(4, 0.9), chunk(1, 0.1)},
	}, 3)

	if len(merged) != 3 {
		t.Fatalf("expected cut to 3, got %d", len(merged))
	}
	// Ties at 0.9 order by chunk ID ascending.
	if merged[0].ChunkID != 4 || merged[1].ChunkID != 5 || merged[2].ChunkID != 3 {
		t.Fatalf("unexpected order: %v %v %v", merged[0].ChunkID, merged[1].ChunkID, merged[2].ChunkID)
	}
	if stats.ChunksReturned != 3 || stats.UniqueChunks != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMergeInvariants(t *testing.T) {
	merged, stats := Merge([][]store.ChunkHit{
		{chunk(1, 0.9), chunk(2, 0.8), chunk(3, 0.7)},
		{chunk(2, 0.85)},
		nil,
	}, 2)

	if stats.UniqueChunks > stats.TotalBeforeDedup {
		t.Fatalf("unique > total: %+v", stats)
	}
	if stats.DuplicatesRemoved != stats.TotalBeforeDedup-stats.UniqueChunks {
		t.Fatalf("duplicates mismatch: %+v", stats)
	}
	if stats.DuplicatesRemoved < 0 {
		t.Fatalf("negative duplicates: %+v", stats)
	}
	if len(merged) > 2 {
		t.Fatalf("cut violated: %d", len(merged))
	}
}

func TestMergeDeterministic(t *testing.T) {
	input := [][]store.ChunkHit{
		{chunk(9, 0.5), chunk(2, 0.5), chunk(7, 0.3)},
		{chunk(2, 0.5), chunk(9, 0.4)},
	}
	first, _ := Merge(input, 15)
	for i := 0; i < 20; i++ {
		again, _ := Merge(input, 15)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("merge not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestMergeEmpty(t *testing.T) {
	merged, stats := Merge(nil, 15)
	if len(merged) != 0 || stats.TotalBeforeDedup != 0 {
		t.Fatalf("unexpected output for empty input: %v %+v", merged, stats)
	}
}
