package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/transcriptqa/agent"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/ingest"
	"github.com/sweetpotato0/transcriptqa/message"
	"github.com/sweetpotato0/transcriptqa/store"
	"github.com/sweetpotato0/transcriptqa/turns"
)

type stubStore struct {
	hits    []store.ChunkHit
	pingErr error
	ftsErr  error
	qaRes   *store.QAPairsResult
}

func (s *stubStore) ChunksByFTS(ctx context.Context, tsquery string, websearch bool, n int, f *store.Filters) ([]store.ChunkHit, error) {
	if s.ftsErr != nil {
		return nil, s.ftsErr
	}
	return s.hits, nil
}

func (s *stubStore) ChunksByVector(ctx context.Context, vec []float32, n int, f *store.Filters) ([]store.ChunkHit, error) {
	return s.hits, nil
}

func (s *stubStore) SimilarityByChunkIDs(ctx context.Context, vec []float32, chunkIDs []int64) ([]store.ChunkSimilarity, error) {
	out := make([]store.ChunkSimilarity, len(chunkIDs))
	for i, id := range chunkIDs {
		out[i] = store.ChunkSimilarity{ChunkID: id, Similarity: 0.5}
	}
	return out, nil
}

func (s *stubStore) ExplainChunksFTS(ctx context.Context, tsquery string, websearch bool, n int, f *store.Filters) (string, error) {
	return "Bitmap Index Scan on chunks_tsv_idx", nil
}

func (s *stubStore) ExplainChunksVector(ctx context.Context, vec []float32, n int, f *store.Filters) (string, error) {
	return "Index Scan using chunk_embeddings_idx", nil
}

func (s *stubStore) QAPairs(ctx context.Context, turnIDs []int64) (*store.QAPairsResult, error) {
	if s.qaRes != nil {
		return s.qaRes, nil
	}
	return &store.QAPairsResult{}, nil
}

func (s *stubStore) Ping(ctx context.Context) error { return s.pingErr }

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubLLM struct {
	answer string
}

func (s *stubLLM) Chat(ctx context.Context, messages []*message.Message, tools []map[string]any) (*agent.ChatResult, error) {
	return &agent.ChatResult{
		Message: message.New(message.RoleAssistant, s.answer),
		Usage:   agent.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (s *stubLLM) Model() string { return "stub-model" }

type stubExpander struct {
	views []turns.TurnView
	err   error
}

func (s *stubExpander) Expand(ctx context.Context, chunks []turns.ScoredChunk, tokenBudget int, includePreceding bool) ([]turns.TurnView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.views, nil
}

type stubIngester struct {
	res *ingest.Result
	err error
}

func (s *stubIngester) IngestText(ctx context.Context, in *ingest.TextInput) (*ingest.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

func newTestServer(st *stubStore, exp *stubExpander, ing *stubIngester) *Server {
	if st == nil {
		st = &stubStore{}
	}
	if exp == nil {
		exp = &stubExpander{}
	}
	if ing == nil {
		ing = &stubIngester{res: &ingest.Result{DocID: 1}}
	}
	return NewServer(st, &stubEmbedder{}, &stubLLM{answer: "grounded answer"}, exp, ing)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestHealthUnavailable(t *testing.T) {
	s := newTestServer(&stubStore{pingErr: apperrors.ErrStoreUnavailable}, nil, nil)
	w := doJSON(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRootDescribesEndpoints(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/chat/completion")
}

func TestQueryFTS(t *testing.T) {
	st := &stubStore{hits: []store.ChunkHit{
		{ChunkID: 1, DocID: 1, Text: "hello", Score: 0.9},
	}}
	s := newTestServer(st, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/api/retrieval/query", QueryRequest{
		Query: "hello world",
		Mode:  "fts",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Chunks, 1)
	assert.Equal(t, int64(1), resp.Chunks[0].ChunkID)
	assert.Equal(t, "fts", resp.QueryInfo["mode"])
}

func TestQueryMissingBody(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodPost, "/api/retrieval/query", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestQueryRejectsUnknownMode(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodPost, "/api/retrieval/query", map[string]any{
		"query": "x",
		"mode":  "super",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestQueryStoreFailureIsOpaque(t *testing.T) {
	s := newTestServer(&stubStore{ftsErr: apperrors.ErrStoreUnavailable}, nil, nil)
	w := doJSON(t, s, http.MethodPost, "/api/retrieval/query", QueryRequest{
		Query: "x",
		Mode:  "fts",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
	assert.NotContains(t, w.Body.String(), "store")
}

func TestChatCompletionVanilla(t *testing.T) {
	st := &stubStore{hits: []store.ChunkHit{
		{ChunkID: 1, DocID: 1, Text: "context", Score: 0.9},
	}}
	s := newTestServer(st, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/api/chat/completion", ChatCompletionRequest{
		Question: "what happened?",
		Agent:    "vanilla",
		Mode:     "fts",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "grounded answer", resp.Answer)
	assert.Equal(t, "stub-model", resp.ModelUsed)
	assert.Equal(t, int64(15), resp.TokensUsed.TotalTokens)
	require.Len(t, resp.RetrievedChunks, 1)
}

func TestChatCompletionValidatesQuestion(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodPost, "/api/chat/completion", map[string]any{"agent": "vanilla"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestExpand(t *testing.T) {
	exp := &stubExpander{views: []turns.TurnView{
		{TurnID: 10, DocID: 1, Speaker: "Host", Text: "full turn", TokenCount: 3},
	}}
	s := newTestServer(nil, exp, nil)

	w := doJSON(t, s, http.MethodPost, "/api/retrieval/expand", ExpandRequest{
		ChunkIDs: []int64{1, 2},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ExpandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalTurns)
	assert.Equal(t, int64(10), resp.Turns[0].TurnID)
}

func TestExpandRequiresChunkIDs(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodPost, "/api/retrieval/expand", map[string]any{"chunk_ids": []int64{}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestExpandBadBudget(t *testing.T) {
	exp := &stubExpander{err: apperrors.ErrBadInput}
	s := newTestServer(nil, exp, nil)
	w := doJSON(t, s, http.MethodPost, "/api/retrieval/expand", ExpandRequest{
		ChunkIDs:    []int64{1},
		TokenBudget: 100,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQAPairs(t *testing.T) {
	st := &stubStore{qaRes: &store.QAPairsResult{
		Pairs: []store.QAPair{{
			Question: store.TurnLite{ID: 1, Ord: 0, Speaker: "Host"},
			Answer:   store.TurnLite{ID: 2, Ord: 1, Speaker: "Guest"},
		}},
		Skipped:  []int64{3},
		NotFound: []int64{99},
	}}
	s := newTestServer(st, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/api/retrieval/qa-pairs", QAPairsRequest{
		TurnIDs: []int64{2, 3, 99},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp QAPairsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalPairs)
	assert.Equal(t, 1, resp.SkippedTurns)
	assert.Equal(t, 1, resp.NotFoundCount)
}

func TestBenchFTS(t *testing.T) {
	st := &stubStore{hits: []store.ChunkHit{{ChunkID: 1, Score: 0.5}}}
	s := newTestServer(st, nil, nil)

	w := doJSON(t, s, http.MethodGet, "/api/retrieval/bench?q=hello&mode=fts", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp BenchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.RowsReturned)
	assert.Contains(t, resp.Explain, "Bitmap Index Scan")
	assert.Equal(t, "hello", resp.Query)
}

func TestBenchRequiresQuery(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodGet, "/api/retrieval/bench", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBenchRejectsUnknownMode(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodGet, "/api/retrieval/bench?q=x&mode=super", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestText(t *testing.T) {
	ing := &stubIngester{res: &ingest.Result{
		DocID:       7,
		ChunkCount:  3,
		TotalTokens: 120,
		Embeddings:  3,
	}}
	s := newTestServer(nil, nil, ing)

	w := doJSON(t, s, http.MethodPost, "/api/ingest/text", IngestTextRequest{
		Text:  "some document text",
		Title: "doc",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp IngestTextResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, int64(7), resp.DocID)
	assert.Equal(t, 3, resp.ChunkCount)
}

func TestIngestTextRequiresText(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodPost, "/api/ingest/text", map[string]any{"title": "no text"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
