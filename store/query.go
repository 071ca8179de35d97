package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// buildFTSQuery assembles the lexical search statement. tsquery is the
// pre-compiled query text; when websearch is true it is parsed with
// websearch_to_tsquery (quoted phrases preserved), otherwise with to_tsquery.
func (s *Store) buildFTSQuery(tsquery string, websearch bool, n int, f *Filters) (string, []any) {
	parser := "to_tsquery"
	if websearch {
		parser = "websearch_to_tsquery"
	}

	args := []any{tsquery, s.defaultSpeaker}
	where := []string{"c.tsv @@ q"}
	where = append(where, filterClauses(f, "COALESCE(t.speaker, $2)", &args)...)

	args = append(args, n)
	limit := "$" + strconv.Itoa(len(args))

	query := fmt.Sprintf(`
SELECT c.id, c.doc_id, c.ord, c.text,
       ts_rank(c.tsv, q) AS score,
       d.title, COALESCE(d.url, ''), d.published_at, d.source,
       COALESCE(t.speaker, $2) AS speaker
FROM %s('english', $1) q,
     chunks c
JOIN docs d ON d.id = c.doc_id
LEFT JOIN turns t ON t.id = c.turn_id
WHERE %s
ORDER BY score DESC, c.id ASC
LIMIT %s`, parser, strings.Join(where, " AND "), limit)

	return query, args
}

// ChunksByFTS runs lexical retrieval and returns up to n ranked chunks.
func (s *Store) ChunksByFTS(ctx context.Context, tsquery string, websearch bool, n int, f *Filters) ([]ChunkHit, error) {
	query, args := s.buildFTSQuery(tsquery, websearch, n, f)
	return s.scanChunkHits(ctx, query, args)
}

// buildVectorQuery assembles the cosine-distance scan over all embeddings.
func (s *Store) buildVectorQuery(vec []float32, n int, f *Filters) (string, []any) {
	args := []any{vectorLiteral(vec), s.defaultSpeaker}
	where := filterClauses(f, "COALESCE(t.speaker, $2)", &args)
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	args = append(args, n)
	limit := "$" + strconv.Itoa(len(args))

	query := fmt.Sprintf(`
SELECT c.id, c.doc_id, c.ord, c.text,
       1 - (ce.embedding <=> $1::vector) AS score,
       d.title, COALESCE(d.url, ''), d.published_at, d.source,
       COALESCE(t.speaker, $2) AS speaker
FROM chunk_embeddings ce
JOIN chunks c ON c.id = ce.chunk_id
JOIN docs d ON d.id = c.doc_id
LEFT JOIN turns t ON t.id = c.turn_id
%s
ORDER BY ce.embedding <=> $1::vector ASC, c.id ASC
LIMIT %s`, whereSQL, limit)

	return query, args
}

// ChunksByVector runs semantic retrieval: a store-side cosine scan converted
// to similarity 1 - distance.
func (s *Store) ChunksByVector(ctx context.Context, vec []float32, n int, f *Filters) ([]ChunkHit, error) {
	query, args := s.buildVectorQuery(vec, n, f)
	return s.scanChunkHits(ctx, query, args)
}

// SimilarityByChunkIDs computes cosine similarity between the query vector
// and the embeddings of exactly the given chunk IDs. Chunks without an
// embedding are absent from the result.
func (s *Store) SimilarityByChunkIDs(ctx context.Context, vec []float32, chunkIDs []int64) ([]ChunkSimilarity, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT chunk_id, 1 - (embedding <=> $1::vector) AS similarity
FROM chunk_embeddings
WHERE chunk_id = ANY($2)`, vectorLiteral(vec), pq.Array(chunkIDs))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []ChunkSimilarity
	for rows.Next() {
		var cs ChunkSimilarity
		if err := rows.Scan(&cs.ChunkID, &cs.Similarity); err != nil {
			return nil, classify(err)
		}
		out = append(out, cs)
	}
	return out, classify(rows.Err())
}

func (s *Store) scanChunkHits(ctx context.Context, query string, args []any) ([]ChunkHit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.DocID, &h.Ord, &h.Text, &h.Score,
			&h.Meta.Title, &h.Meta.URL, &h.Meta.PublishedAt, &h.Meta.Source, &h.Meta.Speaker); err != nil {
			return nil, classify(err)
		}
		hits = append(hits, h)
	}
	return hits, classify(rows.Err())
}

// ExplainChunksFTS returns the EXPLAIN (ANALYZE, BUFFERS) plan of the lexical
// statement.
func (s *Store) ExplainChunksFTS(ctx context.Context, tsquery string, websearch bool, n int, f *Filters) (string, error) {
	query, args := s.buildFTSQuery(tsquery, websearch, n, f)
	return s.explain(ctx, query, args)
}

// ExplainChunksVector returns the EXPLAIN (ANALYZE, BUFFERS) plan of the
// semantic statement.
func (s *Store) ExplainChunksVector(ctx context.Context, vec []float32, n int, f *Filters) (string, error) {
	query, args := s.buildVectorQuery(vec, n, f)
	return s.explain(ctx, query, args)
}

func (s *Store) explain(ctx context.Context, query string, args []any) (string, error) {
	rows, err := s.db.QueryContext(ctx, "EXPLAIN (ANALYZE, BUFFERS) "+query, args...)
	if err != nil {
		return "", classify(err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", classify(err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", classify(err)
	}
	return strings.Join(lines, "\n"), nil
}
