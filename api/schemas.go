package api

import (
	"time"

	"github.com/sweetpotato0/transcriptqa/agent"
	"github.com/sweetpotato0/transcriptqa/retrieval"
	"github.com/sweetpotato0/transcriptqa/store"
	"github.com/sweetpotato0/transcriptqa/turns"
)

// QueryFilters narrows retrieval by document and speaker metadata. All
// fields are optional and combined as AND.
type QueryFilters struct {
	Source    string     `json:"source,omitempty"`
	DocType   string     `json:"doc_type,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Speaker   string     `json:"speaker,omitempty"`
}

func (f *QueryFilters) toStore() *store.Filters {
	if f == nil {
		return nil
	}
	return &store.Filters{
		Source:    f.Source,
		DocType:   f.DocType,
		StartDate: f.StartDate,
		EndDate:   f.EndDate,
		Speaker:   f.Speaker,
	}
}

// QueryRequest is the body of POST /api/retrieval/query.
type QueryRequest struct {
	Query         string        `json:"query" binding:"required,min=1"`
	MaxReturned   int           `json:"max_returned" binding:"omitempty,min=1,max=100"`
	Mode          string        `json:"mode" binding:"omitempty,oneof=fts vector hybrid"`
	Operator      string        `json:"operator" binding:"omitempty,oneof=and or"`
	FTSCandidates int           `json:"fts_candidates" binding:"omitempty,min=1,max=500"`
	Filters       *QueryFilters `json:"filters"`
}

// QueryResponse is ranked chunks plus the per-stage timing breakdown.
type QueryResponse struct {
	Chunks    []store.ChunkHit `json:"chunks"`
	TimingMs  retrieval.Timing `json:"timing_ms"`
	QueryInfo map[string]any   `json:"query_info"`
}

// ChatCompletionRequest is the body of POST /api/chat/completion.
type ChatCompletionRequest struct {
	Question      string        `json:"question" binding:"required,min=1,max=2000"`
	Agent         string        `json:"agent" binding:"omitempty,oneof=vanilla multi-query"`
	Mode          string        `json:"mode" binding:"omitempty,oneof=fts vector hybrid"`
	Operator      string        `json:"operator" binding:"omitempty,oneof=and or"`
	FTSCandidates int           `json:"fts_candidates" binding:"omitempty,min=1,max=500"`
	MaxReturned   int           `json:"max_returned" binding:"omitempty,min=1,max=100"`
	Filters       *QueryFilters `json:"filters"`
}

// ChatCompletionResponse carries the answer with its grounding and run
// metadata. Sub-query fields are empty for the vanilla agent.
type ChatCompletionResponse struct {
	Answer            string            `json:"answer"`
	TraceID           string            `json:"trace_id,omitempty"`
	LatencyMs         float64           `json:"latency_ms"`
	RetrievedChunks   []store.ChunkHit  `json:"retrieved_chunks"`
	ModelUsed         string            `json:"model_used"`
	TokensUsed        agent.Usage       `json:"tokens_used"`
	SubQueries        []string          `json:"sub_queries,omitempty"`
	ChunksPerSubquery map[string]int    `json:"chunks_per_subquery,omitempty"`
	Dedup             *agent.DedupStats `json:"deduplication_stats,omitempty"`
}

// ExpandRequest is the body of POST /api/retrieval/expand.
type ExpandRequest struct {
	ChunkIDs         []int64 `json:"chunk_ids" binding:"required,min=1"`
	TokenBudget      int     `json:"token_budget" binding:"omitempty,min=100"`
	IncludePreceding bool    `json:"include_preceding_question"`
}

// ExpandResponse lists the deduplicated turns for the requested chunks.
type ExpandResponse struct {
	Turns       []turns.TurnView `json:"turns"`
	TotalTurns  int              `json:"total_turns"`
	QueryTimeMs float64          `json:"query_time_ms"`
}

// QAPairsRequest is the body of POST /api/retrieval/qa-pairs.
type QAPairsRequest struct {
	TurnIDs []int64 `json:"turn_ids" binding:"required,min=1"`
}

// QAPairsResponse pairs each turn with its predecessor.
type QAPairsResponse struct {
	Pairs         []store.QAPair `json:"pairs"`
	TotalPairs    int            `json:"total_pairs"`
	SkippedTurns  int            `json:"skipped_turns"`
	NotFoundCount int            `json:"not_found_count"`
	QueryTimeMs   float64        `json:"query_time_ms"`
}

// BenchResponse reports timing plus the database execution plan for a query.
type BenchResponse struct {
	QueryTimeMs  float64 `json:"query_time_ms"`
	RowsReturned int     `json:"rows_returned"`
	Explain      string  `json:"explain"`
	Query        string  `json:"query"`
}

// IngestTextRequest is the body of POST /api/ingest/text.
type IngestTextRequest struct {
	Text        string         `json:"text" binding:"required,min=1"`
	Title       string         `json:"title"`
	Source      string         `json:"source"`
	URL         string         `json:"url"`
	DocType     string         `json:"doc_type" binding:"omitempty,oneof=transcript blog text"`
	PublishedAt *time.Time     `json:"published_at"`
	Metadata    map[string]any `json:"metadata"`
}

// IngestTextResponse reports what the ingestion wrote.
type IngestTextResponse struct {
	Status          string  `json:"status"`
	DocID           int64   `json:"doc_id"`
	Title           string  `json:"title"`
	ChunkCount      int     `json:"chunk_count"`
	TotalTokens     int     `json:"total_tokens"`
	IngestionTimeMs float64 `json:"ingestion_time_ms"`
	Embeddings      int     `json:"embeddings_generated"`
}
