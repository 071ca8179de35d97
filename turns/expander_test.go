package turns

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/store"
)

type stubStore struct {
	rows     []store.TurnChunkRow
	prev     map[store.TurnRef]store.TurnLite
	prevErr  error
	prevSeen []store.TurnRef
}

func (s *stubStore) TurnsByChunkIDs(ctx context.Context, chunkIDs []int64) ([]store.TurnChunkRow, error) {
	return s.rows, nil
}

func (s *stubStore) PreviousTurns(ctx context.Context, refs []store.TurnRef) (map[store.TurnRef]store.TurnLite, error) {
	s.prevSeen = refs
	if s.prevErr != nil {
		return nil, s.prevErr
	}
	return s.prev, nil
}

func row(chunkID, turnID int64, ord, tokens int, text string) store.TurnChunkRow {
	return store.TurnChunkRow{
		ChunkID: chunkID, TurnID: turnID, DocID: 1, Ord: ord,
		Speaker: "host", Text: text, TokenCount: tokens,
		Title: "Episode 1", Source: "all-in",
	}
}

func TestExpandDeduplicatesTurns(t *testing.T) {
	// Chunks 10 and 11 belong to the same turn.
	st := &stubStore{rows: []store.TurnChunkRow{
		row(10, 100, 1, 50, "full turn text"),
		row(11, 100, 1, 50, "full turn text"),
		row(12, 200, 2, 40, "another turn"),
	}}
	e := NewExpander(st)

	views, err := e.Expand(context.Background(), []ScoredChunk{
		{ChunkID: 10, Score: 0.4},
		{ChunkID: 11, Score: 0.9},
		{ChunkID: 12, Score: 0.6},
	}, 8000, false)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 unique turns, got %d", len(views))
	}
	// Turn 100 carries the max of its chunk scores and ranks first.
	if views[0].TurnID != 100 || views[0].Score != 0.9 {
		t.Fatalf("expected turn 100 with score 0.9 first, got %+v", views[0])
	}
	if views[0].Text != "full turn text" {
		t.Fatalf("view must carry the turn's full text, got %q", views[0].Text)
	}
}

func TestExpandBudgetStopsAtFirstExceedance(t *testing.T) {
	st := &stubStore{rows: []store.TurnChunkRow{
		row(1, 100, 0, 60, "a"),
		row(2, 200, 1, 80, "b"),
		row(3, 300, 2, 100, "c"),
	}}
	e := NewExpander(st)

	views, err := e.Expand(context.Background(), []ScoredChunk{
		{ChunkID: 1, Score: 0.9},
		{ChunkID: 2, Score: 0.8},
		{ChunkID: 3, Score: 0.7},
	}, 150, false)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	// 60 + 80 = 140 fits; adding 100 would exceed 150 and assembly stops.
	if len(views) != 2 {
		t.Fatalf("expected 2 turns within budget, got %d", len(views))
	}
	if views[0].TurnID != 100 || views[1].TurnID != 200 {
		t.Fatalf("unexpected turns: %+v", views)
	}
}

func TestExpandBudgetCountsPrecedingQuestion(t *testing.T) {
	st := &stubStore{
		rows: []store.TurnChunkRow{row(1, 100, 3, 80, "answer")},
		prev: map[store.TurnRef]store.TurnLite{
			{DocID: 1, Ord: 2}: {ID: 99, DocID: 1, Ord: 2, Speaker: "guest", Text: "question", TokenCount: 50},
		},
	}
	e := NewExpander(st)

	// 80 + 50 = 130 > 120: nothing fits.
	views, err := e.Expand(context.Background(), []ScoredChunk{{ChunkID: 1, Score: 0.5}}, 120, true)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected empty assembly, got %d", len(views))
	}

	// 130 <= 150: the turn fits with its question attached.
	views, err = e.Expand(context.Background(), []ScoredChunk{{ChunkID: 1, Score: 0.5}}, 150, true)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(views))
	}
	if views[0].PrecedingQuestion == nil || views[0].PrecedingQuestion.TurnID != 99 {
		t.Fatalf("expected preceding question 99, got %+v", views[0].PrecedingQuestion)
	}
}

func TestExpandFirstTurnHasNoPredecessor(t *testing.T) {
	st := &stubStore{rows: []store.TurnChunkRow{row(1, 100, 0, 40, "opening")}}
	e := NewExpander(st)

	views, err := e.Expand(context.Background(), []ScoredChunk{{ChunkID: 1, Score: 0.5}}, 8000, true)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(views) != 1 || views[0].PrecedingQuestion != nil {
		t.Fatalf("ordinal 0 must not have a preceding question: %+v", views)
	}
	if len(st.prevSeen) != 0 {
		t.Fatalf("no predecessor lookup expected, got %v", st.prevSeen)
	}
}

func TestExpandRejectsTinyBudget(t *testing.T) {
	e := NewExpander(&stubStore{})
	_, err := e.Expand(context.Background(), []ScoredChunk{{ChunkID: 1}}, 50, false)
	if !errors.Is(err, apperrors.ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestExpandDefaultsBudget(t *testing.T) {
	st := &stubStore{rows: []store.TurnChunkRow{row(1, 100, 0, 40, "x")}}
	e := NewExpander(st)
	views, err := e.Expand(context.Background(), []ScoredChunk{{ChunkID: 1, Score: 1}}, 0, false)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected default budget to admit the turn, got %d", len(views))
	}
}

func TestExpandEmptyInput(t *testing.T) {
	e := NewExpander(&stubStore{})
	views, err := e.Expand(context.Background(), nil, 8000, true)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no views, got %d", len(views))
	}
}
