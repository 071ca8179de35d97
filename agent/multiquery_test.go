package agent

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/message"
	"github.com/sweetpotato0/transcriptqa/retrieval"
	"github.com/sweetpotato0/transcriptqa/store"
)

// scriptedLLM replays a fixed sequence of assistant turns.
type scriptedLLM struct {
	turns []*message.Message
	calls int
	seen  [][]*message.Message
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []*message.Message, tools []map[string]any) (*ChatResult, error) {
	s.seen = append(s.seen, messages)
	if s.calls >= len(s.turns) {
		return nil, fmt.Errorf("%w: script exhausted", apperrors.ErrLLMUnavailable)
	}
	turn := s.turns[s.calls]
	s.calls++
	return &ChatResult{Message: turn, Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func (s *scriptedLLM) Model() string { return "test-model" }

// mapRetriever answers per-query fixtures; unknown queries error.
type mapRetriever struct {
	byQuery map[string][]store.ChunkHit
	failOn  map[string]error
}

func (m *mapRetriever) Retrieve(ctx context.Context, query string, n int, f *store.Filters) (*retrieval.Response, error) {
	if err, ok := m.failOn[query]; ok {
		return nil, err
	}
	return &retrieval.Response{Chunks: m.byQuery[query]}, nil
}

func toolCallTurn(queries ...any) *message.Message {
	return message.NewToolCall("", []message.ToolCall{{
		ID:   "call_1",
		Name: "retrieve_for_queries",
		Args: map[string]any{"queries": queries},
	}})
}

func TestMultiQueryHappyPath(t *testing.T) {
	llm := &scriptedLLM{turns: []*message.Message{
		toolCallTurn("q1", "q2"),
		message.New(message.RoleAssistant, "final answer"),
	}}
	ret := &mapRetriever{byQuery: map[string][]store.ChunkHit{
		"q1": {chunk(1, 0.9), chunk(2, 0.5)},
		"q2": {chunk(2, 0.6), chunk(3, 0.4)},
	}}
	a := NewMultiQuery(llm, ret)

	resp, err := a.Run(context.Background(), "what changed?", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Answer != "final answer" {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}
	if !reflect.DeepEqual(resp.SubQueries, []string{"q1", "q2"}) {
		t.Fatalf("unexpected sub-queries %v", resp.SubQueries)
	}
	if resp.ChunksPerSubquery["q1"] != 2 || resp.ChunksPerSubquery["q2"] != 2 {
		t.Fatalf("unexpected per-subquery counts %v", resp.ChunksPerSubquery)
	}
	if resp.Dedup.TotalBeforeDedup != 4 || resp.Dedup.UniqueChunks != 3 || resp.Dedup.ChunksBoosted != 1 {
		t.Fatalf("unexpected dedup stats %+v", resp.Dedup)
	}
	// Chunk 2 boosted: 0.6 * 1.2 = 0.72, still behind chunk 1 at 0.9.
	if resp.RetrievedChunks[0].ChunkID != 1 || resp.RetrievedChunks[1].ChunkID != 2 {
		t.Fatalf("unexpected chunk order %+v", resp.RetrievedChunks)
	}
	// Token usage sums across both model turns.
	if resp.Usage.TotalTokens != 30 {
		t.Fatalf("usage not summed: %+v", resp.Usage)
	}
	if resp.Model != "test-model" {
		t.Fatalf("unexpected model %q", resp.Model)
	}
}

func TestMultiQuerySubQueryFailureIsolated(t *testing.T) {
	llm := &scriptedLLM{turns: []*message.Message{
		toolCallTurn("q1", "q2", "q3"),
		message.New(message.RoleAssistant, "answer despite failure"),
	}}
	ret := &mapRetriever{
		byQuery: map[string][]store.ChunkHit{
			"q1": {chunk(1, 0.9)},
			"q3": {chunk(3, 0.7)},
		},
		failOn: map[string]error{"q2": apperrors.ErrStoreUnavailable},
	}
	a := NewMultiQuery(llm, ret)

	resp, err := a.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Answer != "answer despite failure" {
		t.Fatalf("expected final answer, got %q", resp.Answer)
	}
	if resp.ChunksPerSubquery["q2"] != 0 {
		t.Fatalf("failed sub-query must report 0 chunks, got %d", resp.ChunksPerSubquery["q2"])
	}
	if !reflect.DeepEqual(resp.SubQueries, []string{"q1", "q2", "q3"}) {
		t.Fatalf("failed sub-query must stay listed, got %v", resp.SubQueries)
	}
	if len(resp.RetrievedChunks) != 2 {
		t.Fatalf("expected chunks from surviving sub-queries, got %d", len(resp.RetrievedChunks))
	}
}

func TestMultiQueryEmptyQueriesRenderedAsToolError(t *testing.T) {
	llm := &scriptedLLM{turns: []*message.Message{
		toolCallTurn(), // empty list: rejected tool-side
		toolCallTurn("retry query"),
		message.New(message.RoleAssistant, "recovered"),
	}}
	ret := &mapRetriever{byQuery: map[string][]store.ChunkHit{
		"retry query": {chunk(1, 0.5)},
	}}
	a := NewMultiQuery(llm, ret)

	resp, err := a.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Answer != "recovered" {
		t.Fatalf("expected recovery, got %q", resp.Answer)
	}

	// The second model call must have seen the rejection as a tool message.
	second := llm.seen[1]
	last := second[len(second)-1]
	if last.Role != message.RoleTool {
		t.Fatalf("expected tool message, got role %s", last.Role)
	}
	if !strings.Contains(last.Content, "Error executing tool retrieve_for_queries") {
		t.Fatalf("expected rendered tool error, got %q", last.Content)
	}
}

func TestMultiQueryTruncatesToFive(t *testing.T) {
	llm := &scriptedLLM{turns: []*message.Message{
		toolCallTurn("q1", "q2", "q3", "q4", "q5", "q6", "q7"),
		message.New(message.RoleAssistant, "done"),
	}}
	ret := &mapRetriever{byQuery: map[string][]store.ChunkHit{}}
	a := NewMultiQuery(llm, ret)

	resp, err := a.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(resp.SubQueries, []string{"q1", "q2", "q3", "q4", "q5"}) {
		t.Fatalf("expected truncation to 5, got %v", resp.SubQueries)
	}
}

func TestMultiQueryAllSubQueriesFailStillSynthesizes(t *testing.T) {
	llm := &scriptedLLM{turns: []*message.Message{
		toolCallTurn("q1", "q2"),
		message.New(message.RoleAssistant, "nothing found"),
	}}
	ret := &mapRetriever{failOn: map[string]error{
		"q1": apperrors.ErrStoreUnavailable,
		"q2": apperrors.ErrStoreUnavailable,
	}}
	a := NewMultiQuery(llm, ret)

	resp, err := a.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Answer != "nothing found" {
		t.Fatalf("expected synthesis over empty context, got %q", resp.Answer)
	}

	// The model must have received the explicit empty-context notice.
	second := llm.seen[1]
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "No relevant information") {
		t.Fatalf("expected empty-context notice, got %q", last.Content)
	}
}

func TestMultiQueryDeterministicAcrossRuns(t *testing.T) {
	ret := &mapRetriever{byQuery: map[string][]store.ChunkHit{
		"q1": {chunk(9, 0.5), chunk(2, 0.5)},
		"q2": {chunk(2, 0.5), chunk(9, 0.5), chunk(4, 0.2)},
	}}

	var first []int64
	for i := 0; i < 10; i++ {
		llm := &scriptedLLM{turns: []*message.Message{
			toolCallTurn("q1", "q2"),
			message.New(message.RoleAssistant, "ok"),
		}}
		a := NewMultiQuery(llm, ret)
		resp, err := a.Run(context.Background(), "q", nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		ids := make([]int64, len(resp.RetrievedChunks))
		for j, c := range resp.RetrievedChunks {
			ids[j] = c.ChunkID
		}
		if first == nil {
			first = ids
			continue
		}
		if !reflect.DeepEqual(first, ids) {
			t.Fatalf("ordering changed across runs: %v vs %v", first, ids)
		}
	}
}

func TestMultiQueryRejectsEmptyQuestion(t *testing.T) {
	a := NewMultiQuery(&scriptedLLM{}, &mapRetriever{})
	_, err := a.Run(context.Background(), "   ", nil)
	if !errors.Is(err, apperrors.ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestMultiQueryPropagatesLLMFailure(t *testing.T) {
	a := NewMultiQuery(&scriptedLLM{}, &mapRetriever{})
	_, err := a.Run(context.Background(), "q", nil)
	if !errors.Is(err, apperrors.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
}

func TestVanillaAgentSingleImplicitSubQuery(t *testing.T) {
	llm := &scriptedLLM{turns: []*message.Message{
		message.New(message.RoleAssistant, "direct answer"),
	}}
	ret := &mapRetriever{byQuery: map[string][]store.ChunkHit{
		"what happened?": {chunk(1, 0.9), chunk(2, 0.8)},
	}}
	a := NewVanilla(llm, ret)

	resp, err := a.Run(context.Background(), "what happened?", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Answer != "direct answer" {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}
	if !reflect.DeepEqual(resp.SubQueries, []string{"what happened?"}) {
		t.Fatalf("expected the question as the only sub-query, got %v", resp.SubQueries)
	}
	if resp.Dedup != nil {
		t.Fatalf("vanilla run must not report dedup stats, got %+v", resp.Dedup)
	}
	if len(resp.RetrievedChunks) != 2 {
		t.Fatalf("unexpected chunks %d", len(resp.RetrievedChunks))
	}
}

func TestFactory(t *testing.T) {
	llm := &scriptedLLM{}
	ret := &mapRetriever{}
	if _, err := New(KindVanilla, llm, ret); err != nil {
		t.Fatalf("vanilla: %v", err)
	}
	if _, err := New(KindMultiQuery, llm, ret); err != nil {
		t.Fatalf("multi-query: %v", err)
	}
	if _, err := New("super", llm, ret); !errors.Is(err, apperrors.ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}
