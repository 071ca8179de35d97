// Package api exposes the retrieval and agent subsystems over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sweetpotato0/transcriptqa/agent"
	"github.com/sweetpotato0/transcriptqa/ingest"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
	"github.com/sweetpotato0/transcriptqa/retrieval"
	"github.com/sweetpotato0/transcriptqa/store"
	"github.com/sweetpotato0/transcriptqa/turns"
)

// Store is the slice of the persistence layer the HTTP handlers reach
// directly or through per-request retrievers.
type Store interface {
	retrieval.Store
	QAPairs(ctx context.Context, turnIDs []int64) (*store.QAPairsResult, error)
	Ping(ctx context.Context) error
}

// Expander maps chunk IDs to deduplicated speaker turns.
type Expander interface {
	Expand(ctx context.Context, chunks []turns.ScoredChunk, tokenBudget int, includePreceding bool) ([]turns.TurnView, error)
}

// Ingester accepts raw text documents.
type Ingester interface {
	IngestText(ctx context.Context, in *ingest.TextInput) (*ingest.Result, error)
}

// Server wires the HTTP surface to the retrieval, agent and ingestion
// subsystems. Retrievers and agents are built per request from the request's
// tunables; only the store pool and the LLM client are shared.
type Server struct {
	store      Store
	embedder   retrieval.Embedder
	llm        agent.LLMClient
	expander   Expander
	ingester   Ingester
	defaultN   int
	logger     *slog.Logger
	httpServer *http.Server
	router     *gin.Engine
}

// Option configures the server.
type Option func(*Server)

// WithDefaultRetrievalN overrides the top-N used when a request omits
// max_returned.
func WithDefaultRetrievalN(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.defaultN = n
		}
	}
}

// NewServer builds the router with all routes registered.
func NewServer(st Store, emb retrieval.Embedder, llm agent.LLMClient, exp Expander, ing Ingester, opts ...Option) *Server {
	s := &Server{
		store:    st,
		embedder: emb,
		llm:      llm,
		expander: exp,
		ingester: ing,
		defaultN: 50,
		logger:   logging.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/", s.handleRoot)

	apiGroup := router.Group("/api")
	apiGroup.GET("/health", s.handleHealth)
	apiGroup.POST("/chat/completion", s.handleChatCompletion)
	apiGroup.POST("/retrieval/query", s.handleQuery)
	apiGroup.POST("/retrieval/expand", s.handleExpand)
	apiGroup.POST("/retrieval/qa-pairs", s.handleQAPairs)
	apiGroup.GET("/retrieval/bench", s.handleBench)
	apiGroup.POST("/ingest/text", s.handleIngestText)

	s.router = router
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	s.logger.Info("http server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
