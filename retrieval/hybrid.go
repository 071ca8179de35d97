package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
	"github.com/sweetpotato0/transcriptqa/pkg/telemetry"
	"github.com/sweetpotato0/transcriptqa/store"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultFTSCandidates is the lexical candidate pool fed to the rerank.
	DefaultFTSCandidates = 100
	maxFTSCandidates     = 500
)

// HybridRetriever generates a lexical candidate pool and reranks it by
// cosine similarity against a single query embedding. Candidates without an
// embedding are dropped.
type HybridRetriever struct {
	store         Store
	embedder      Embedder
	fts           *FTSRetriever
	ftsCandidates int
	logger        *slog.Logger
}

// HybridOption configures a HybridRetriever.
type HybridOption func(*HybridRetriever)

// WithFTSCandidates bounds the lexical candidate pool; valid range [1, 500].
func WithFTSCandidates(n int) HybridOption {
	return func(r *HybridRetriever) {
		r.ftsCandidates = n
	}
}

// WithHybridOperator sets the lexical operator of the candidate stage.
func WithHybridOperator(op Operator) HybridOption {
	return func(r *HybridRetriever) {
		r.fts.operator = op
	}
}

// NewHybrid creates the hybrid retriever.
func NewHybrid(st Store, emb Embedder, opts ...HybridOption) (*HybridRetriever, error) {
	r := &HybridRetriever{
		store:         st,
		embedder:      emb,
		fts:           NewFTS(st),
		ftsCandidates: DefaultFTSCandidates,
		logger:        logging.WithComponent("retrieval-hybrid"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ftsCandidates < 1 || r.ftsCandidates > maxFTSCandidates {
		return nil, fmt.Errorf("%w: fts_candidates must be in [1, %d], got %d",
			apperrors.ErrBadInput, maxFTSCandidates, r.ftsCandidates)
	}
	return r, nil
}

// Retrieve runs the two-stage pipeline: lexical candidates, then a vector
// rerank over exactly those candidates.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, n int, f *store.Filters) (_ *Response, err error) {
	ctx, span := telemetry.Tracer("retrieval").Start(ctx, "retrieval.hybrid")
	defer func() { telemetry.End(span, err) }()
	span.SetAttributes(
		attribute.Int("retrieval.n", n),
		attribute.Int("retrieval.fts_candidates", r.ftsCandidates),
	)

	if err = validateLimit(n); err != nil {
		return nil, err
	}

	total := time.Now()
	ftsResp, err := r.fts.Retrieve(ctx, query, r.ftsCandidates, f)
	if err != nil {
		return nil, fmt.Errorf("hybrid: candidate stage: %w", err)
	}
	if len(ftsResp.Chunks) == 0 {
		return &Response{
			Chunks: nil,
			Timing: Timing{FTSMs: ftsResp.Timing.FTSMs, TotalMs: ms(time.Since(total))},
		}, nil
	}

	embedStart := time.Now()
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("hybrid: embed query: %w", err)
	}
	embeddingMs := ms(time.Since(embedStart))

	rerankStart := time.Now()
	chunks, err := r.rerank(ctx, vec, ftsResp.Chunks, n)
	if err != nil {
		return nil, err
	}
	rerankingMs := ms(time.Since(rerankStart))

	r.logger.Debug("hybrid retrieval complete",
		"candidates", len(ftsResp.Chunks), "returned", len(chunks),
		"fts_ms", ftsResp.Timing.FTSMs, "embedding_ms", embeddingMs, "reranking_ms", rerankingMs)

	return &Response{
		Chunks: chunks,
		Timing: Timing{
			FTSMs:       ftsResp.Timing.FTSMs,
			EmbeddingMs: embeddingMs,
			RerankingMs: rerankingMs,
			TotalMs:     ms(time.Since(total)),
		},
	}, nil
}

// rerank replaces each candidate's lexical score with its cosine similarity,
// drops candidates without embeddings, and keeps the best n.
func (r *HybridRetriever) rerank(ctx context.Context, vec []float32, candidates []store.ChunkHit, n int) ([]store.ChunkHit, error) {
	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}

	sims, err := r.store.SimilarityByChunkIDs(ctx, vec, ids)
	if err != nil {
		return nil, fmt.Errorf("hybrid: rerank: %w", err)
	}
	byID := make(map[int64]float64, len(sims))
	for _, s := range sims {
		byID[s.ChunkID] = s.Similarity
	}

	reranked := make([]store.ChunkHit, 0, len(candidates))
	for _, c := range candidates {
		sim, ok := byID[c.ChunkID]
		if !ok {
			continue
		}
		c.Score = sim
		reranked = append(reranked, c)
	}

	sort.Slice(reranked, func(i, j int) bool {
		if reranked[i].Score != reranked[j].Score {
			return reranked[i].Score > reranked[j].Score
		}
		return reranked[i].ChunkID < reranked[j].ChunkID
	})
	if len(reranked) > n {
		reranked = reranked[:n]
	}
	return reranked, nil
}

// Explain reports the candidate stage's plan plus the embedding and rerank
// cost narrative. The extra embedding call is charged to the caller.
func (r *HybridRetriever) Explain(ctx context.Context, query string, n int, f *store.Filters) (string, error) {
	if err := validateLimit(n); err != nil {
		return "", err
	}

	plan, err := r.fts.Explain(ctx, query, r.ftsCandidates, f)
	if err != nil {
		return "", fmt.Errorf("hybrid explain: %w", err)
	}

	embedStart := time.Now()
	if _, err := r.embedder.Embed(ctx, query); err != nil {
		return "", fmt.Errorf("hybrid explain: embed query: %w", err)
	}
	embeddingMs := ms(time.Since(embedStart))

	return fmt.Sprintf("-- hybrid: %d fts candidates, rerank to %d\n-- query embedding: %.2f ms\n%s",
		r.ftsCandidates, n, embeddingMs, plan), nil
}
