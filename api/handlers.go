package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sweetpotato0/transcriptqa/agent"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/ingest"
	"github.com/sweetpotato0/transcriptqa/pkg/telemetry"
	"github.com/sweetpotato0/transcriptqa/retrieval"
	"github.com/sweetpotato0/transcriptqa/store"
	"github.com/sweetpotato0/transcriptqa/turns"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "transcriptqa",
		"endpoints": []string{
			"POST /api/chat/completion",
			"POST /api/retrieval/query",
			"POST /api/retrieval/expand",
			"POST /api/retrieval/qa-pairs",
			"GET  /api/retrieval/bench",
			"POST /api/ingest/text",
			"GET  /api/health",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	mode := retrieval.Mode(req.Mode)
	if mode == "" {
		mode = retrieval.ModeFTS
	}
	n := req.MaxReturned
	if n == 0 {
		n = s.defaultN
	}

	retriever, err := retrieval.New(mode, s.store, s.embedder, retrieval.Options{
		Operator:      retrieval.Operator(req.Operator),
		FTSCandidates: req.FTSCandidates,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	result, err := retriever.Retrieve(c.Request.Context(), req.Query, n, req.Filters.toStore())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, QueryResponse{
		Chunks:   result.Chunks,
		TimingMs: result.Timing,
		QueryInfo: map[string]any{
			"mode":            string(mode),
			"operator":        req.Operator,
			"fts_candidates":  req.FTSCandidates,
			"max_returned":    n,
			"filters_applied": req.Filters != nil,
		},
	})
}

func (s *Server) handleChatCompletion(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	ctx, span := telemetry.Tracer("api").Start(c.Request.Context(), "api.chat_completion")
	var runErr error
	defer func() { telemetry.End(span, runErr) }()

	mode := retrieval.Mode(req.Mode)
	if mode == "" {
		mode = retrieval.ModeHybrid
	}
	kind := agent.Kind(req.Agent)
	if kind == "" {
		kind = agent.KindVanilla
	}
	maxReturned := req.MaxReturned
	if maxReturned == 0 {
		maxReturned = 10
	}

	retriever, err := retrieval.New(mode, s.store, s.embedder, retrieval.Options{
		Operator:      retrieval.Operator(req.Operator),
		FTSCandidates: req.FTSCandidates,
	})
	if err != nil {
		runErr = err
		s.writeError(c, err)
		return
	}

	ag, err := agent.New(kind, s.llm, retriever, agent.WithMaxReturned(maxReturned))
	if err != nil {
		runErr = err
		s.writeError(c, err)
		return
	}

	result, err := ag.Run(ctx, req.Question, req.Filters.toStore())
	if err != nil {
		runErr = err
		s.writeError(c, err)
		return
	}

	resp := ChatCompletionResponse{
		Answer:            result.Answer,
		LatencyMs:         result.LatencyMs,
		RetrievedChunks:   result.RetrievedChunks,
		ModelUsed:         result.Model,
		TokensUsed:        result.Usage,
		SubQueries:        result.SubQueries,
		ChunksPerSubquery: result.ChunksPerSubquery,
		Dedup:             result.Dedup,
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleExpand(c *gin.Context) {
	var req ExpandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	scored := make([]turns.ScoredChunk, len(req.ChunkIDs))
	for i, id := range req.ChunkIDs {
		scored[i] = turns.ScoredChunk{ChunkID: id}
	}

	start := time.Now()
	views, err := s.expander.Expand(c.Request.Context(), scored, req.TokenBudget, req.IncludePreceding)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if views == nil {
		views = []turns.TurnView{}
	}

	c.JSON(http.StatusOK, ExpandResponse{
		Turns:       views,
		TotalTurns:  len(views),
		QueryTimeMs: sinceMs(start),
	})
}

func (s *Server) handleQAPairs(c *gin.Context) {
	var req QAPairsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	result, err := s.store.QAPairs(c.Request.Context(), req.TurnIDs)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := QAPairsResponse{
		Pairs:         result.Pairs,
		TotalPairs:    len(result.Pairs),
		SkippedTurns:  len(result.Skipped),
		NotFoundCount: len(result.NotFound),
		QueryTimeMs:   sinceMs(start),
	}
	if resp.Pairs == nil {
		resp.Pairs = []store.QAPair{}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleBench(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}
	mode := retrieval.Mode(c.DefaultQuery("mode", "fts"))
	operator := retrieval.Operator(c.DefaultQuery("operator", "or"))
	candidates := 0
	if raw := c.Query("fts_candidates"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fts_candidates must be an integer"})
			return
		}
		candidates = parsed
	}

	retriever, err := retrieval.New(mode, s.store, s.embedder, retrieval.Options{
		Operator:      operator,
		FTSCandidates: candidates,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	start := time.Now()
	result, err := retriever.Retrieve(c.Request.Context(), query, 50, nil)
	if err != nil {
		s.writeError(c, err)
		return
	}
	elapsed := sinceMs(start)

	plan, err := retriever.Explain(c.Request.Context(), query, 50, nil)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, BenchResponse{
		QueryTimeMs:  elapsed,
		RowsReturned: len(result.Chunks),
		Explain:      plan,
		Query:        query,
	})
}

func (s *Server) handleIngestText(c *gin.Context) {
	var req IngestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	result, err := s.ingester.IngestText(c.Request.Context(), &ingest.TextInput{
		Source:      req.Source,
		URL:         req.URL,
		Title:       req.Title,
		DocType:     req.DocType,
		PublishedAt: req.PublishedAt,
		Metadata:    req.Metadata,
		Text:        req.Text,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, IngestTextResponse{
		Status:          "accepted",
		DocID:           result.DocID,
		Title:           req.Title,
		ChunkCount:      result.ChunkCount,
		TotalTokens:     result.TotalTokens,
		IngestionTimeMs: result.ElapsedMs,
		Embeddings:      result.Embeddings,
	})
}

// writeError maps error kinds to status codes. Internal failures never leak
// details to the client.
func (s *Server) writeError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrBadInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
