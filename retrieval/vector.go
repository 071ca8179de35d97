package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/transcriptqa/pkg/logging"
	"github.com/sweetpotato0/transcriptqa/pkg/telemetry"
	"github.com/sweetpotato0/transcriptqa/store"
	"go.opentelemetry.io/otel/attribute"
)

// VectorRetriever is the semantic retriever: embed the query, then a
// store-side cosine scan converted to similarity 1 - distance.
type VectorRetriever struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

// NewVector creates the semantic retriever.
func NewVector(st Store, emb Embedder) *VectorRetriever {
	return &VectorRetriever{
		store:    st,
		embedder: emb,
		logger:   logging.WithComponent("retrieval-vector"),
	}
}

// Retrieve embeds the query and returns up to n chunks by descending cosine
// similarity.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, n int, f *store.Filters) (_ *Response, err error) {
	ctx, span := telemetry.Tracer("retrieval").Start(ctx, "retrieval.vector")
	defer func() { telemetry.End(span, err) }()
	span.SetAttributes(attribute.Int("retrieval.n", n))

	if err = validateLimit(n); err != nil {
		return nil, err
	}

	embedStart := time.Now()
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector retrieve: embed query: %w", err)
	}
	embeddingMs := ms(time.Since(embedStart))

	scanStart := time.Now()
	hits, err := r.store.ChunksByVector(ctx, vec, n, f)
	if err != nil {
		return nil, fmt.Errorf("vector retrieve: %w", err)
	}
	retrievalMs := ms(time.Since(scanStart))

	r.logger.Debug("vector retrieval complete",
		"hits", len(hits), "embedding_ms", embeddingMs, "retrieval_ms", retrievalMs)

	return &Response{
		Chunks: hits,
		Timing: Timing{
			EmbeddingMs: embeddingMs,
			RetrievalMs: retrievalMs,
			TotalMs:     embeddingMs + retrievalMs,
		},
	}, nil
}

// Explain embeds the query and returns the store's plan for the cosine scan.
// The embedding call is charged to the caller and its latency reported in the
// plan header.
func (r *VectorRetriever) Explain(ctx context.Context, query string, n int, f *store.Filters) (string, error) {
	if err := validateLimit(n); err != nil {
		return "", err
	}

	embedStart := time.Now()
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("vector explain: embed query: %w", err)
	}
	embeddingMs := ms(time.Since(embedStart))

	plan, err := r.store.ExplainChunksVector(ctx, vec, n, f)
	if err != nil {
		return "", fmt.Errorf("vector explain: %w", err)
	}
	return fmt.Sprintf("-- query embedding: %.2f ms\n%s", embeddingMs, plan), nil
}
