// Package retrieval implements the three retrievers: lexical (fts), semantic
// (vector) and hybrid (fts candidates reranked by vector similarity).
package retrieval

import (
	"context"
	"fmt"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/store"
)

// Mode selects a retriever implementation.
type Mode string

const (
	ModeFTS    Mode = "fts"
	ModeVector Mode = "vector"
	ModeHybrid Mode = "hybrid"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFTS, ModeVector, ModeHybrid:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: unknown retrieval mode %q", apperrors.ErrBadInput, s)
}

// Operator selects how lexical terms combine.
type Operator string

const (
	OperatorOr  Operator = "or"
	OperatorAnd Operator = "and"
)

// ParseOperator validates an operator string; empty defaults to "or".
func ParseOperator(s string) (Operator, error) {
	switch Operator(s) {
	case "":
		return OperatorOr, nil
	case OperatorOr, OperatorAnd:
		return Operator(s), nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", apperrors.ErrBadInput, s)
}

// Timing is the per-stage latency breakdown of one retrieval call, in
// milliseconds. Stages that did not run report zero.
type Timing struct {
	FTSMs       float64 `json:"fts_ms"`
	EmbeddingMs float64 `json:"embedding_ms"`
	RerankingMs float64 `json:"reranking_ms"`
	RetrievalMs float64 `json:"retrieval_ms"`
	TotalMs     float64 `json:"total_ms"`
}

// Response is the outcome of one retrieval call. Chunk order is
// deterministic: score descending, chunk ID ascending on ties.
type Response struct {
	Chunks []store.ChunkHit `json:"chunks"`
	Timing Timing           `json:"timing"`
}

// Retriever is the narrow capability set shared by all three modes.
type Retriever interface {
	Retrieve(ctx context.Context, query string, n int, f *store.Filters) (*Response, error)
	Explain(ctx context.Context, query string, n int, f *store.Filters) (string, error)
}

// Store is the slice of the store adapter the retrievers depend on.
type Store interface {
	ChunksByFTS(ctx context.Context, tsquery string, websearch bool, n int, f *store.Filters) ([]store.ChunkHit, error)
	ChunksByVector(ctx context.Context, vec []float32, n int, f *store.Filters) ([]store.ChunkHit, error)
	SimilarityByChunkIDs(ctx context.Context, vec []float32, chunkIDs []int64) ([]store.ChunkSimilarity, error)
	ExplainChunksFTS(ctx context.Context, tsquery string, websearch bool, n int, f *store.Filters) (string, error)
	ExplainChunksVector(ctx context.Context, vec []float32, n int, f *store.Filters) (string, error)
}

// Embedder is the single-text embedding capability the retrievers need.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

func validateLimit(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: n must be >= 1, got %d", apperrors.ErrBadInput, n)
	}
	return nil
}
