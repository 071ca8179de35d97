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

// FTSRetriever is the lexical retriever: tokenised query against the chunks'
// precomputed full-text index, ranked by the store's text-rank function.
type FTSRetriever struct {
	store    Store
	operator Operator
	logger   *slog.Logger
}

// FTSOption configures an FTSRetriever.
type FTSOption func(*FTSRetriever)

// WithFTSOperator sets how terms combine; defaults to "or".
func WithFTSOperator(op Operator) FTSOption {
	return func(r *FTSRetriever) {
		r.operator = op
	}
}

// NewFTS creates the lexical retriever.
func NewFTS(st Store, opts ...FTSOption) *FTSRetriever {
	r := &FTSRetriever{
		store:    st,
		operator: OperatorOr,
		logger:   logging.WithComponent("retrieval-fts"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to n chunks ranked by text rank, ties broken by
// ascending chunk ID.
func (r *FTSRetriever) Retrieve(ctx context.Context, query string, n int, f *store.Filters) (_ *Response, err error) {
	ctx, span := telemetry.Tracer("retrieval").Start(ctx, "retrieval.fts")
	defer func() { telemetry.End(span, err) }()
	span.SetAttributes(attribute.Int("retrieval.n", n))

	if err = validateLimit(n); err != nil {
		return nil, err
	}

	tsquery, websearch := BuildTSQuery(query, r.operator)

	start := time.Now()
	hits, err := r.store.ChunksByFTS(ctx, tsquery, websearch, n, f)
	if err != nil {
		return nil, fmt.Errorf("fts retrieve: %w", err)
	}
	elapsed := ms(time.Since(start))

	r.logger.Debug("fts retrieval complete",
		"terms", tsquery, "websearch", websearch, "hits", len(hits), "ms", elapsed)

	return &Response{
		Chunks: hits,
		Timing: Timing{FTSMs: elapsed, RetrievalMs: elapsed, TotalMs: elapsed},
	}, nil
}

// Explain returns the store's query plan for the lexical statement.
func (r *FTSRetriever) Explain(ctx context.Context, query string, n int, f *store.Filters) (string, error) {
	if err := validateLimit(n); err != nil {
		return "", err
	}
	tsquery, websearch := BuildTSQuery(query, r.operator)
	plan, err := r.store.ExplainChunksFTS(ctx, tsquery, websearch, n, f)
	if err != nil {
		return "", fmt.Errorf("fts explain: %w", err)
	}
	return plan, nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
