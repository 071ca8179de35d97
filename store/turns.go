package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// TurnsByChunkIDs joins each chunk to its owning turn and document metadata.
// Chunks without a turn are absent from the result. The same turn appears
// once per referencing chunk; deduplication is the caller's concern.
func (s *Store) TurnsByChunkIDs(ctx context.Context, chunkIDs []int64) ([]TurnChunkRow, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT c.id, t.id, t.doc_id, t.ord,
       COALESCE(t.speaker, ''), COALESCE(t.section_title, ''), t.text, t.token_count,
       d.title, COALESCE(d.url, ''), d.published_at, d.source
FROM chunks c
JOIN turns t ON t.id = c.turn_id
JOIN docs d ON d.id = t.doc_id
WHERE c.id = ANY($1)
ORDER BY t.doc_id, t.ord`, pq.Array(chunkIDs))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []TurnChunkRow
	for rows.Next() {
		var r TurnChunkRow
		if err := rows.Scan(&r.ChunkID, &r.TurnID, &r.DocID, &r.Ord,
			&r.Speaker, &r.SectionTitle, &r.Text, &r.TokenCount,
			&r.Title, &r.URL, &r.PublishedAt, &r.Source); err != nil {
			return nil, classify(err)
		}
		out = append(out, r)
	}
	return out, classify(rows.Err())
}

// PreviousTurns fetches, for each (doc, ord) reference, the turn at that
// position. Used to attach the turn at ordinal-1 as the preceding question.
func (s *Store) PreviousTurns(ctx context.Context, refs []TurnRef) (map[TurnRef]TurnLite, error) {
	if len(refs) == 0 {
		return map[TurnRef]TurnLite{}, nil
	}

	var (
		clauses []string
		args    []any
	)
	for _, ref := range refs {
		args = append(args, ref.DocID, ref.Ord)
		clauses = append(clauses, fmt.Sprintf("(doc_id = $%d AND ord = $%d)", len(args)-1, len(args)))
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, doc_id, ord, COALESCE(speaker, ''), text, token_count
FROM turns
WHERE `+strings.Join(clauses, " OR "), args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[TurnRef]TurnLite, len(refs))
	for rows.Next() {
		var t TurnLite
		if err := rows.Scan(&t.ID, &t.DocID, &t.Ord, &t.Speaker, &t.Text, &t.TokenCount); err != nil {
			return nil, classify(err)
		}
		out[TurnRef{DocID: t.DocID, Ord: t.Ord}] = t
	}
	return out, classify(rows.Err())
}

// QAPairsResult reports the outcome of pairing turns with their predecessors.
type QAPairsResult struct {
	Pairs    []QAPair
	Skipped  []int64 // turns at ordinal 0, which have no predecessor
	NotFound []int64 // requested turn IDs that do not exist
}

// QAPairs pairs each requested turn with the turn at ordinal-1 in the same
// document.
func (s *Store) QAPairs(ctx context.Context, turnIDs []int64) (*QAPairsResult, error) {
	if len(turnIDs) == 0 {
		return &QAPairsResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT a.id, a.doc_id, a.ord, COALESCE(a.speaker, ''), a.text, a.token_count,
       q.id, q.doc_id, q.ord, COALESCE(q.speaker, ''), q.text, q.token_count
FROM turns a
JOIN turns q ON q.doc_id = a.doc_id AND q.ord = a.ord - 1
WHERE a.id = ANY($1)
ORDER BY a.doc_id, a.ord`, pq.Array(turnIDs))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	res := &QAPairsResult{}
	paired := make(map[int64]bool, len(turnIDs))
	for rows.Next() {
		var p QAPair
		if err := rows.Scan(
			&p.Answer.ID, &p.Answer.DocID, &p.Answer.Ord, &p.Answer.Speaker, &p.Answer.Text, &p.Answer.TokenCount,
			&p.Question.ID, &p.Question.DocID, &p.Question.Ord, &p.Question.Speaker, &p.Question.Text, &p.Question.TokenCount,
		); err != nil {
			return nil, classify(err)
		}
		paired[p.Answer.ID] = true
		res.Pairs = append(res.Pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	// Distinguish first-of-document turns from unknown IDs.
	existing, err := s.turnOrdinals(ctx, turnIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range turnIDs {
		if paired[id] {
			continue
		}
		ord, ok := existing[id]
		switch {
		case !ok:
			res.NotFound = append(res.NotFound, id)
		case ord == 0:
			res.Skipped = append(res.Skipped, id)
		default:
			// Exists with ord > 0 but the predecessor row is missing;
			// treat as skipped rather than failing the batch.
			res.Skipped = append(res.Skipped, id)
		}
	}
	return res, nil
}

func (s *Store) turnOrdinals(ctx context.Context, turnIDs []int64) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ord FROM turns WHERE id = ANY($1)`, pq.Array(turnIDs))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[int64]int, len(turnIDs))
	for rows.Next() {
		var (
			id  int64
			ord int
		)
		if err := rows.Scan(&id, &ord); err != nil {
			return nil, classify(err)
		}
		out[id] = ord
	}
	return out, classify(rows.Err())
}
