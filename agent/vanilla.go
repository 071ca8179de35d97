package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/message"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
	"github.com/sweetpotato0/transcriptqa/pkg/telemetry"
	"github.com/sweetpotato0/transcriptqa/store"
)

const vanillaSystemPrompt = `You answer questions about a corpus of long-form interview transcripts using the provided context. Ground every claim in the context and name the speakers you cite. If the context does not contain the answer, say so.`

// VanillaAgent is the degenerate case of the multi-query agent: one implicit
// sub-query equal to the original question, no boosting, direct synthesis.
type VanillaAgent struct {
	llm         LLMClient
	retriever   Retriever
	maxReturned int
	retrievalN  int
	logger      *slog.Logger
}

// NewVanilla creates the single-query agent.
func NewVanilla(llm LLMClient, retriever Retriever, opts ...Option) *VanillaAgent {
	// Reuse the multi-query option set via a throwaway carrier.
	carrier := &MultiQueryAgent{maxReturned: DefaultMaxReturned, retrievalN: defaultRetrievalN}
	for _, opt := range opts {
		opt(carrier)
	}
	return &VanillaAgent{
		llm:         llm,
		retriever:   retriever,
		maxReturned: carrier.maxReturned,
		retrievalN:  carrier.retrievalN,
		logger:      logging.WithComponent("agent-vanilla"),
	}
}

// Run retrieves once with the original question and synthesizes directly.
func (a *VanillaAgent) Run(ctx context.Context, question string, f *store.Filters) (_ *Response, err error) {
	ctx, span := telemetry.Tracer("agent").Start(ctx, "agent.vanilla")
	defer func() { telemetry.End(span, err) }()

	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question cannot be empty", apperrors.ErrBadInput)
	}

	start := time.Now()
	resp, err := a.retriever.Retrieve(ctx, question, a.retrievalN, f)
	if err != nil {
		return nil, fmt.Errorf("vanilla agent: %w", err)
	}
	chunks := resp.Chunks
	if len(chunks) > a.maxReturned {
		chunks = chunks[:a.maxReturned]
	}

	prompt := fmt.Sprintf("%s\n\nQuestion: %s", formatContext(chunks), question)
	result, err := a.llm.Chat(ctx, []*message.Message{
		message.New(message.RoleSystem, vanillaSystemPrompt),
		message.New(message.RoleUser, prompt),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("vanilla agent: %w", err)
	}

	a.logger.Info("vanilla run complete", "chunks", len(chunks))

	return &Response{
		Answer:            result.Message.Content,
		SubQueries:        []string{question},
		ChunksPerSubquery: map[string]int{question: len(resp.Chunks)},
		RetrievedChunks:   chunks,
		Model:             a.llm.Model(),
		Usage:             result.Usage,
		LatencyMs:         float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
