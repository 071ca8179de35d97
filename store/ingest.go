package store

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
)

// NewTurn is a turn to insert during ingestion.
type NewTurn struct {
	Ord          int
	Speaker      string
	StartTimeSec *float64
	SectionTitle string
	Text         string
	TokenCount   int
}

// NewChunk is a chunk to insert during ingestion. TurnIdx indexes into the
// request's turn slice; nil for chunks without an owning turn.
type NewChunk struct {
	TurnIdx    *int
	Ord        int
	Text       string
	TokenCount int
}

// IngestRequest carries everything inserted for one document.
type IngestRequest struct {
	Doc    Document
	Turns  []NewTurn
	Chunks []NewChunk
	// Embeddings is either empty or aligned one-to-one with Chunks.
	Embeddings [][]float32
}

// IngestResult reports the identifiers assigned during ingestion.
type IngestResult struct {
	DocID      int64
	TurnIDs    []int64
	ChunkIDs   []int64
	Embeddings int
}

// IngestDocument inserts a document with its turns, chunks and embeddings in
// a single transaction. Any failure rolls back everything for the document.
func (s *Store) IngestDocument(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	if len(req.Embeddings) > 0 && len(req.Embeddings) != len(req.Chunks) {
		return nil, fmt.Errorf("%w: %d embeddings for %d chunks",
			apperrors.ErrBadInput, len(req.Embeddings), len(req.Chunks))
	}
	for _, c := range req.Chunks {
		if c.TurnIdx != nil && (*c.TurnIdx < 0 || *c.TurnIdx >= len(req.Turns)) {
			return nil, fmt.Errorf("%w: chunk ord %d references turn index %d of %d",
				apperrors.ErrBadInput, c.Ord, *c.TurnIdx, len(req.Turns))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	meta, err := json.Marshal(req.Doc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal doc metadata: %v", apperrors.ErrInternal, err)
	}

	res := &IngestResult{}
	err = tx.QueryRowContext(ctx, `
INSERT INTO docs (source, url, title, doc_type, published_at, metadata, raw_text)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		req.Doc.Source, req.Doc.URL, req.Doc.Title, req.Doc.DocType,
		req.Doc.PublishedAt, meta, req.Doc.RawText,
	).Scan(&res.DocID)
	if err != nil {
		return nil, classify(err)
	}

	res.TurnIDs = make([]int64, len(req.Turns))
	for i, t := range req.Turns {
		err = tx.QueryRowContext(ctx, `
INSERT INTO turns (doc_id, ord, speaker, start_time_sec, section_title, text, token_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
			res.DocID, t.Ord, t.Speaker, t.StartTimeSec, t.SectionTitle, t.Text, t.TokenCount,
		).Scan(&res.TurnIDs[i])
		if err != nil {
			return nil, classify(err)
		}
	}

	res.ChunkIDs = make([]int64, len(req.Chunks))
	for i, c := range req.Chunks {
		var turnID *int64
		if c.TurnIdx != nil {
			turnID = &res.TurnIDs[*c.TurnIdx]
		}
		err = tx.QueryRowContext(ctx, `
INSERT INTO chunks (doc_id, turn_id, ord, text, token_count, tsv)
VALUES ($1, $2, $3, $4, $5, to_tsvector('english', $4))
RETURNING id`,
			res.DocID, turnID, c.Ord, c.Text, c.TokenCount,
		).Scan(&res.ChunkIDs[i])
		if err != nil {
			return nil, classify(err)
		}
	}

	for i, emb := range req.Embeddings {
		_, err = tx.ExecContext(ctx, `
INSERT INTO chunk_embeddings (chunk_id, embedding)
VALUES ($1, $2::vector)`,
			res.ChunkIDs[i], vectorLiteral(emb))
		if err != nil {
			return nil, classify(err)
		}
		res.Embeddings++
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return res, nil
}
