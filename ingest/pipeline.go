package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/transcriptqa/embedding"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
	"github.com/sweetpotato0/transcriptqa/pkg/telemetry"
	"github.com/sweetpotato0/transcriptqa/store"
)

// Store is the slice of the persistence layer the pipeline writes through.
type Store interface {
	IngestDocument(ctx context.Context, req *store.IngestRequest) (*store.IngestResult, error)
}

// TextInput is a raw-text document to ingest.
type TextInput struct {
	Source      string
	URL         string
	Title       string
	DocType     string
	PublishedAt *time.Time
	Metadata    map[string]any
	Text        string
}

// TurnInput is one speaker turn of a transcript to ingest.
type TurnInput struct {
	Speaker      string
	StartTimeSec *float64
	SectionTitle string
	Text         string
}

// TranscriptInput is a transcript document split into speaker turns.
type TranscriptInput struct {
	Source      string
	URL         string
	Title       string
	DocType     string
	PublishedAt *time.Time
	Metadata    map[string]any
	Turns       []TurnInput
}

// Result reports what one ingestion wrote.
type Result struct {
	DocID       int64   `json:"doc_id"`
	TurnCount   int     `json:"turn_count"`
	ChunkCount  int     `json:"chunk_count"`
	TotalTokens int     `json:"total_tokens"`
	Embeddings  int     `json:"embeddings_generated"`
	ElapsedMs   float64 `json:"ingestion_time_ms"`
}

// Pipeline chunks, embeds and stores documents. A nil embedder skips
// embedding generation; such documents are reachable by FTS only.
type Pipeline struct {
	store    Store
	embedder embedding.Embedder
	chunker  *Chunker
	logger   *slog.Logger
}

// NewPipeline wires the ingestion stages together.
func NewPipeline(st Store, embedder embedding.Embedder, chunker *Chunker) *Pipeline {
	return &Pipeline{
		store:    st,
		embedder: embedder,
		chunker:  chunker,
		logger:   logging.WithComponent("ingest"),
	}
}

// IngestText chunks a raw text document and stores it in one transaction.
func (p *Pipeline) IngestText(ctx context.Context, in *TextInput) (_ *Result, err error) {
	ctx, span := telemetry.Tracer("ingest").Start(ctx, "ingest.text")
	defer func() { telemetry.End(span, err) }()

	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", apperrors.ErrBadInput)
	}
	docType := in.DocType
	if docType == "" {
		docType = "text"
	}

	start := time.Now()
	chunks := p.chunker.Chunk(in.Text, 0)

	req := &store.IngestRequest{
		Doc: store.Document{
			Source:      in.Source,
			URL:         in.URL,
			Title:       in.Title,
			DocType:     docType,
			PublishedAt: in.PublishedAt,
			Metadata:    in.Metadata,
			RawText:     in.Text,
		},
		Chunks: toNewChunks(chunks, nil),
	}
	return p.finish(ctx, req, chunks, 0, start)
}

// IngestTranscript stores a transcript with its speaker turns. Each turn is
// chunked independently so no chunk spans two speakers; chunk ordinals stay
// contiguous across the whole document.
func (p *Pipeline) IngestTranscript(ctx context.Context, in *TranscriptInput) (_ *Result, err error) {
	ctx, span := telemetry.Tracer("ingest").Start(ctx, "ingest.transcript")
	defer func() { telemetry.End(span, err) }()

	if len(in.Turns) == 0 {
		return nil, fmt.Errorf("%w: transcript has no turns", apperrors.ErrBadInput)
	}
	docType := in.DocType
	if docType == "" {
		docType = "transcript"
	}

	start := time.Now()
	newTurns := make([]store.NewTurn, len(in.Turns))
	var allChunks []Chunk
	var newChunks []store.NewChunk
	rawParts := make([]string, len(in.Turns))
	ord := 0
	for i, turn := range in.Turns {
		text := Clean(turn.Text)
		rawParts[i] = text
		turnChunks := p.chunker.Chunk(text, ord)
		ord += len(turnChunks)

		tokenCount := 0
		for _, c := range turnChunks {
			tokenCount += c.TokenCount
		}
		newTurns[i] = store.NewTurn{
			Ord:          i,
			Speaker:      turn.Speaker,
			StartTimeSec: turn.StartTimeSec,
			SectionTitle: turn.SectionTitle,
			Text:         text,
			TokenCount:   tokenCount,
		}

		turnIdx := i
		for _, c := range turnChunks {
			allChunks = append(allChunks, c)
			newChunks = append(newChunks, store.NewChunk{
				TurnIdx:    &turnIdx,
				Ord:        c.Ord,
				Text:       c.Text,
				TokenCount: c.TokenCount,
			})
		}
	}

	req := &store.IngestRequest{
		Doc: store.Document{
			Source:      in.Source,
			URL:         in.URL,
			Title:       in.Title,
			DocType:     docType,
			PublishedAt: in.PublishedAt,
			Metadata:    in.Metadata,
			RawText:     strings.Join(rawParts, "\n\n"),
		},
		Turns:  newTurns,
		Chunks: newChunks,
	}
	return p.finish(ctx, req, allChunks, len(in.Turns), start)
}

// finish embeds the chunk texts when an embedder is configured and commits
// the request.
func (p *Pipeline) finish(ctx context.Context, req *store.IngestRequest, chunks []Chunk, turnCount int, start time.Time) (*Result, error) {
	if p.embedder != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		req.Embeddings = vectors
	}

	stored, err := p.store.IngestDocument(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	totalTokens := 0
	for _, c := range chunks {
		totalTokens += c.TokenCount
	}
	p.logger.Info("document ingested",
		"doc_id", stored.DocID,
		"turns", turnCount,
		"chunks", len(stored.ChunkIDs),
		"embeddings", stored.Embeddings)

	return &Result{
		DocID:       stored.DocID,
		TurnCount:   turnCount,
		ChunkCount:  len(stored.ChunkIDs),
		TotalTokens: totalTokens,
		Embeddings:  stored.Embeddings,
		ElapsedMs:   float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

func toNewChunks(chunks []Chunk, turnIdx *int) []store.NewChunk {
	out := make([]store.NewChunk, len(chunks))
	for i, c := range chunks {
		out[i] = store.NewChunk{
			TurnIdx:    turnIdx,
			Ord:        c.Ord,
			Text:       c.Text,
			TokenCount: c.TokenCount,
		}
	}
	return out
}
