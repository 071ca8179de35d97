package agent

import "github.com/sweetpotato0/transcriptqa/store"

// DedupStats describes the merge step of a multi-query run. Observability
// only; correctness never depends on it.
type DedupStats struct {
	TotalBeforeDedup  int `json:"total_before_dedup"`
	UniqueChunks      int `json:"unique_chunks"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	ChunksBoosted     int `json:"chunks_boosted"`
	MaxOccurrences    int `json:"max_occurrences"`
	ChunksReturned    int `json:"chunks_returned"`
}

// Response is the full outcome of one agent run.
type Response struct {
	Answer            string           `json:"answer"`
	SubQueries        []string         `json:"sub_queries,omitempty"`
	ChunksPerSubquery map[string]int   `json:"chunks_per_subquery,omitempty"`
	Dedup             *DedupStats      `json:"deduplication_stats,omitempty"`
	RetrievedChunks   []store.ChunkHit `json:"retrieved_chunks"`
	Model             string           `json:"model"`
	Usage             Usage            `json:"usage"`
	LatencyMs         float64          `json:"latency_ms"`
}
