// Package agent orchestrates tool-calling LLM conversations over the
// retrievers: decomposition, parallel fan-out, deduplication and synthesis.
package agent

import (
	"context"

	"github.com/sweetpotato0/transcriptqa/message"
	"github.com/sweetpotato0/transcriptqa/retrieval"
	"github.com/sweetpotato0/transcriptqa/store"
)

// Usage counts tokens for one or more model turns.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Add accumulates another turn's usage.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ChatResult is one model turn: the assistant message (text and/or tool
// calls) plus its token usage.
type ChatResult struct {
	Message *message.Message
	Usage   Usage
}

// LLMClient is the narrow chat capability the agents depend on. Tools are
// JSON schemas in the {"type":"function","function":{...}} shape.
type LLMClient interface {
	Chat(ctx context.Context, messages []*message.Message, tools []map[string]any) (*ChatResult, error)
	Model() string
}

// Retriever is the retrieval capability the agents fan out against.
type Retriever interface {
	Retrieve(ctx context.Context, query string, n int, f *store.Filters) (*retrieval.Response, error)
}
