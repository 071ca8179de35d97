// Command transcriptqa serves the transcript QA HTTP API and ingests
// documents into its store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/sweetpotato0/transcriptqa/agent"
	"github.com/sweetpotato0/transcriptqa/api"
	"github.com/sweetpotato0/transcriptqa/config"
	"github.com/sweetpotato0/transcriptqa/embedding"
	"github.com/sweetpotato0/transcriptqa/ingest"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
	"github.com/sweetpotato0/transcriptqa/pkg/telemetry"
	anthropicprovider "github.com/sweetpotato0/transcriptqa/provider/anthropic"
	openaiprovider "github.com/sweetpotato0/transcriptqa/provider/openai"
	"github.com/sweetpotato0/transcriptqa/store"
	"github.com/sweetpotato0/transcriptqa/turns"
)

func main() {
	root := &cobra.Command{
		Use:           "transcriptqa",
		Short:         "Retrieval-augmented QA over long-form interview transcripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), ingestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.WithComponent("main")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			flush, err := telemetry.Init(ctx, telemetry.Config{
				ServiceName: "transcriptqa",
				Project:     cfg.LangsmithProject,
				Disable:     !cfg.LangsmithTracing,
			})
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DSN(), store.WithDefaultSpeaker(cfg.DefaultSpeaker))
			if err != nil {
				return err
			}
			defer st.Close()

			embedder := newEmbedder(cfg)
			llm := newLLM(cfg)
			pipeline, err := newPipeline(cfg, st, embedder)
			if err != nil {
				return err
			}

			srv := api.NewServer(st, embedder, llm, turns.NewExpander(st), pipeline,
				api.WithDefaultRetrievalN(cfg.DefaultRetrievalN))

			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Run(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown incomplete", "error", err)
			}
			if err := flush(shutdownCtx); err != nil {
				logger.Error("trace flush failed", "error", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from API_HOST/API_PORT)")
	return cmd
}

func ingestCmd() *cobra.Command {
	var (
		title   string
		url     string
		source  string
		docType string
		noEmbed bool
	)

	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Ingest a plain-text document from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DSN(), store.WithDefaultSpeaker(cfg.DefaultSpeaker))
			if err != nil {
				return err
			}
			defer st.Close()

			var embedder embedding.Embedder
			if !noEmbed {
				embedder = newEmbedder(cfg)
			}
			pipeline, err := newPipeline(cfg, st, embedder)
			if err != nil {
				return err
			}

			if title == "" {
				title = args[0]
			}
			res, err := pipeline.IngestText(cmd.Context(), &ingest.TextInput{
				Title:   title,
				URL:     url,
				Source:  source,
				DocType: docType,
				Text:    string(raw),
			})
			if err != nil {
				return err
			}
			fmt.Printf("ingested doc %d: %d chunks, %d tokens, %d embeddings (%.0fms)\n",
				res.DocID, res.ChunkCount, res.TotalTokens, res.Embeddings, res.ElapsedMs)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title (default: file name)")
	cmd.Flags().StringVar(&url, "url", "", "document URL")
	cmd.Flags().StringVar(&source, "source", "manual", "document source")
	cmd.Flags().StringVar(&docType, "doc-type", "text", "document type (transcript, blog, text)")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "skip embedding generation")
	return cmd
}

func newEmbedder(cfg *config.Settings) embedding.Embedder {
	inner := embedding.NewOpenAI(cfg.OpenAIAPIKey, "", cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	if cfg.RedisAddr == "" {
		return inner
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return embedding.NewCached(inner, client, cfg.EmbeddingModel)
}

// newLLM picks the provider from the configured model name: claude models go
// to Anthropic, everything else to OpenAI.
func newLLM(cfg *config.Settings) agent.LLMClient {
	if strings.HasPrefix(strings.ToLower(cfg.ChatModel), "claude") {
		return anthropicprovider.New(anthropicprovider.Config{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.ChatModel,
		})
	}
	return openaiprovider.New(openaiprovider.Config{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.ChatModel,
	})
}

func newPipeline(cfg *config.Settings, st *store.Store, embedder embedding.Embedder) (*ingest.Pipeline, error) {
	tokenizer, err := ingest.NewTiktokenTokenizer()
	if err != nil {
		return nil, err
	}
	chunker, err := ingest.NewChunker(tokenizer, cfg.ChunkMinTokens, cfg.ChunkMaxTokens, cfg.ChunkOverlapTokens)
	if err != nil {
		return nil, err
	}
	return ingest.NewPipeline(st, embedder, chunker), nil
}
