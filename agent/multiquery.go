package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/message"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
	"github.com/sweetpotato0/transcriptqa/pkg/telemetry"
	"github.com/sweetpotato0/transcriptqa/store"
	"github.com/sweetpotato0/transcriptqa/tool"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxSubQueries bounds the fan-out; extra sub-queries are truncated.
	MaxSubQueries = 5
	// DefaultMaxReturned is the post-merge cut handed to the model.
	DefaultMaxReturned = 15

	defaultMaxIterations = 5
	defaultRetrievalN    = 8
)

const multiQuerySystemPrompt = `You answer questions about a corpus of long-form interview transcripts.

First, decompose the user's question into 2-5 sub-queries that are mutually exclusive and collectively exhaustive, then call retrieve_for_queries exactly once with all of them. Use the retrieved context to write the final answer. Ground every claim in the context and name the speakers you cite. If the context does not contain the answer, say so.`

// MultiQueryAgent answers a question by letting the model issue one tool call
// carrying 2-5 sub-queries, fanning the retrievals out in parallel, and
// synthesizing from the deduplicated, score-boosted merge.
type MultiQueryAgent struct {
	llm           LLMClient
	retriever     Retriever
	maxReturned   int
	retrievalN    int
	maxIterations int
	logger        *slog.Logger
}

// Option configures an agent.
type Option func(*MultiQueryAgent)

// WithMaxReturned sets the post-merge chunk cut.
func WithMaxReturned(n int) Option {
	return func(a *MultiQueryAgent) {
		if n > 0 {
			a.maxReturned = n
		}
	}
}

// WithRetrievalN sets the per-sub-query retrieval limit.
func WithRetrievalN(n int) Option {
	return func(a *MultiQueryAgent) {
		if n > 0 {
			a.retrievalN = n
		}
	}
}

// WithMaxIterations bounds the tool-calling loop.
func WithMaxIterations(n int) Option {
	return func(a *MultiQueryAgent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// NewMultiQuery creates the multi-query agent.
func NewMultiQuery(llm LLMClient, retriever Retriever, opts ...Option) *MultiQueryAgent {
	a := &MultiQueryAgent{
		llm:           llm,
		retriever:     retriever,
		maxReturned:   DefaultMaxReturned,
		retrievalN:    defaultRetrievalN,
		maxIterations: defaultMaxIterations,
		logger:        logging.WithComponent("agent-multiquery"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// runState collects what the tool handler learns during one run.
type runState struct {
	subQueries        []string
	chunksPerSubquery map[string]int
	merged            []store.ChunkHit
	stats             DedupStats
}

// Run answers the question. The caller's deadline on ctx propagates to every
// retrieval, embedding and model call.
func (a *MultiQueryAgent) Run(ctx context.Context, question string, f *store.Filters) (_ *Response, err error) {
	ctx, span := telemetry.Tracer("agent").Start(ctx, "agent.multi_query")
	defer func() { telemetry.End(span, err) }()

	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question cannot be empty", apperrors.ErrBadInput)
	}

	start := time.Now()
	state := &runState{chunksPerSubquery: map[string]int{}}

	retrieveTool := &tool.Tool{
		Name:        "retrieve_for_queries",
		Description: "Retrieve transcript passages for multiple sub-queries at once. Call exactly once with 2-5 sub-queries covering distinct aspects of the question.",
		Parameters: []tool.Parameter{
			{Name: "queries", Type: "array", Items: "string", Description: "The sub-queries to retrieve for.", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return a.handleRetrieve(ctx, args, f, state)
		},
	}
	registry := tool.NewRegistry()
	if err := registry.Register(retrieveTool); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInternal, err)
	}
	schemas := registry.ToJSONSchemas()

	messages := []*message.Message{
		message.New(message.RoleSystem, multiQuerySystemPrompt),
		message.New(message.RoleUser, question),
	}

	var usage Usage
	for iteration := 0; iteration < a.maxIterations; iteration++ {
		result, err := a.llm.Chat(ctx, messages, schemas)
		if err != nil {
			return nil, fmt.Errorf("multi-query agent: %w", err)
		}
		usage.Add(result.Usage)
		messages = append(messages, result.Message)

		if len(result.Message.ToolCalls) == 0 {
			span.SetAttributes(
				attribute.Int("agent.sub_queries", len(state.subQueries)),
				attribute.Int("agent.chunks_returned", state.stats.ChunksReturned),
			)
			return &Response{
				Answer:            result.Message.Content,
				SubQueries:        state.subQueries,
				ChunksPerSubquery: state.chunksPerSubquery,
				Dedup:             &state.stats,
				RetrievedChunks:   state.merged,
				Model:             a.llm.Model(),
				Usage:             usage,
				LatencyMs:         float64(time.Since(start).Microseconds()) / 1000.0,
			}, nil
		}

		for _, tc := range result.Message.ToolCalls {
			content, err := a.executeToolCall(ctx, registry, tc)
			if err != nil {
				if errors.Is(err, apperrors.ErrTimeout) {
					return nil, err
				}
				// Render the failure to the model so it can retry.
				content = fmt.Sprintf("Error executing tool %s: %v", tc.Name, err)
			}
			messages = append(messages, message.NewToolResponse(tc.ID, content))
		}
	}

	return nil, fmt.Errorf("%w: no final answer after %d iterations", apperrors.ErrInternal, a.maxIterations)
}

func (a *MultiQueryAgent) executeToolCall(ctx context.Context, registry *tool.Registry, tc message.ToolCall) (string, error) {
	t, err := registry.Get(tc.Name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrToolInputRejected, err)
	}
	return t.Execute(ctx, tc.Args)
}

// handleRetrieve is the host side of retrieve_for_queries: validate, fan out,
// merge, render.
func (a *MultiQueryAgent) handleRetrieve(ctx context.Context, args map[string]any, f *store.Filters, state *runState) (string, error) {
	queries := parseQueries(args["queries"])
	if len(queries) == 0 {
		return "", fmt.Errorf("%w: queries must contain at least one non-empty sub-query", apperrors.ErrToolInputRejected)
	}
	if len(queries) > MaxSubQueries {
		queries = queries[:MaxSubQueries]
	}

	results := a.fanOut(ctx, queries, f)
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrTimeout, ctx.Err())
	}

	merged, stats := Merge(results, a.maxReturned)

	state.subQueries = queries
	state.chunksPerSubquery = make(map[string]int, len(queries))
	for i, q := range queries {
		state.chunksPerSubquery[q] = len(results[i])
	}
	state.merged = merged
	state.stats = stats

	a.logger.Info("fan-out complete",
		"sub_queries", len(queries),
		"total_before_dedup", stats.TotalBeforeDedup,
		"unique_chunks", stats.UniqueChunks,
		"chunks_boosted", stats.ChunksBoosted,
		"chunks_returned", stats.ChunksReturned)

	return formatContext(merged), nil
}

// fanOut retrieves every sub-query concurrently, in dispatch order, bounded
// by the number of sub-queries. A failed sub-query yields an empty result;
// it never fails the whole answer.
func (a *MultiQueryAgent) fanOut(ctx context.Context, queries []string, f *store.Filters) [][]store.ChunkHit {
	results := make([][]store.ChunkHit, len(queries))

	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			resp, err := a.retriever.Retrieve(ctx, q, a.retrievalN, f)
			if err != nil {
				a.logger.Warn("sub-query retrieval failed", "query", q, "error", err)
				return nil
			}
			results[i] = resp.Chunks
			return nil
		})
	}
	// Goroutines only record into their own slot; Wait cannot fail.
	_ = g.Wait()
	return results
}

func parseQueries(raw any) []string {
	var out []string
	appendQuery := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			appendQuery(s)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				appendQuery(s)
			}
		}
	}
	return out
}
