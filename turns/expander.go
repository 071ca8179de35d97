// Package turns maps retrieved chunks back to the speaker turns they came
// from and assembles them under a token budget.
package turns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
	"github.com/sweetpotato0/transcriptqa/pkg/telemetry"
	"github.com/sweetpotato0/transcriptqa/store"
)

const (
	// MinTokenBudget is the smallest accepted assembly budget.
	MinTokenBudget = 100
	// DefaultTokenBudget is used when the caller passes 0.
	DefaultTokenBudget = 8000
)

// ScoredChunk references a retrieved chunk by ID together with its retrieval
// score.
type ScoredChunk struct {
	ChunkID int64
	Score   float64
}

// PrecedingTurn is the turn at ordinal-1, attached as the question that the
// expanded turn answers.
type PrecedingTurn struct {
	TurnID     int64  `json:"turn_id"`
	Speaker    string `json:"speaker"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// TurnView is one expanded turn: the full turn text, document metadata, the
// best score among its source chunks, and optionally the preceding turn.
type TurnView struct {
	TurnID            int64          `json:"turn_id"`
	DocID             int64          `json:"doc_id"`
	Ord               int            `json:"ord"`
	Speaker           string         `json:"speaker"`
	SectionTitle      string         `json:"section_title,omitempty"`
	Text              string         `json:"text"`
	TokenCount        int            `json:"token_count"`
	Score             float64        `json:"score"`
	Title             string         `json:"title"`
	URL               string         `json:"url"`
	PublishedAt       *time.Time     `json:"published_at"`
	Source            string         `json:"source"`
	PrecedingQuestion *PrecedingTurn `json:"preceding_question,omitempty"`
}

// Store is the slice of the store adapter the expander depends on.
type Store interface {
	TurnsByChunkIDs(ctx context.Context, chunkIDs []int64) ([]store.TurnChunkRow, error)
	PreviousTurns(ctx context.Context, refs []store.TurnRef) (map[store.TurnRef]store.TurnLite, error)
}

// Expander deduplicates turns referenced by retrieved chunks and assembles
// them under a token budget in descending score order.
type Expander struct {
	store  Store
	logger *slog.Logger
}

// NewExpander creates a turn expander.
func NewExpander(st Store) *Expander {
	return &Expander{
		store:  st,
		logger: logging.WithComponent("turns"),
	}
}

// Expand returns each referenced turn at most once. Assembly walks turns in
// descending score order and stops at the first turn whose token count
// (plus, when requested, its preceding turn's) would exceed the budget.
func (e *Expander) Expand(ctx context.Context, chunks []ScoredChunk, tokenBudget int, includePreceding bool) (_ []TurnView, err error) {
	ctx, span := telemetry.Tracer("turns").Start(ctx, "turns.expand")
	defer func() { telemetry.End(span, err) }()

	if tokenBudget == 0 {
		tokenBudget = DefaultTokenBudget
	}
	if tokenBudget < MinTokenBudget {
		return nil, fmt.Errorf("%w: token budget must be >= %d, got %d",
			apperrors.ErrBadInput, MinTokenBudget, tokenBudget)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(chunks))
	scoreByChunk := make(map[int64]float64, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
		if s, ok := scoreByChunk[c.ChunkID]; !ok || c.Score > s {
			scoreByChunk[c.ChunkID] = c.Score
		}
	}

	rows, err := e.store.TurnsByChunkIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("expand: %w", err)
	}

	// Deduplicate: each turn once, carrying the max chunk score.
	byTurn := make(map[int64]*TurnView, len(rows))
	order := make([]int64, 0, len(rows))
	for _, r := range rows {
		score := scoreByChunk[r.ChunkID]
		if tv, ok := byTurn[r.TurnID]; ok {
			if score > tv.Score {
				tv.Score = score
			}
			continue
		}
		byTurn[r.TurnID] = &TurnView{
			TurnID:       r.TurnID,
			DocID:        r.DocID,
			Ord:          r.Ord,
			Speaker:      r.Speaker,
			SectionTitle: r.SectionTitle,
			Text:         r.Text,
			TokenCount:   r.TokenCount,
			Score:        score,
			Title:        r.Title,
			URL:          r.URL,
			PublishedAt:  r.PublishedAt,
			Source:       r.Source,
		}
		order = append(order, r.TurnID)
	}

	views := make([]TurnView, 0, len(order))
	for _, id := range order {
		views = append(views, *byTurn[id])
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Score != views[j].Score {
			return views[i].Score > views[j].Score
		}
		return views[i].TurnID < views[j].TurnID
	})

	if includePreceding {
		if err := e.attachPreceding(ctx, views); err != nil {
			return nil, err
		}
	}

	// Budgeted assembly: stop at the first exceedance, do not skip ahead.
	assembled := make([]TurnView, 0, len(views))
	total := 0
	for _, v := range views {
		cost := v.TokenCount
		if v.PrecedingQuestion != nil {
			cost += v.PrecedingQuestion.TokenCount
		}
		if total+cost > tokenBudget {
			break
		}
		total += cost
		assembled = append(assembled, v)
	}

	e.logger.Debug("turn expansion complete",
		"chunks", len(chunks), "unique_turns", len(views),
		"assembled", len(assembled), "tokens", total, "budget", tokenBudget)
	return assembled, nil
}

func (e *Expander) attachPreceding(ctx context.Context, views []TurnView) error {
	refs := make([]store.TurnRef, 0, len(views))
	for _, v := range views {
		if v.Ord > 0 {
			refs = append(refs, store.TurnRef{DocID: v.DocID, Ord: v.Ord - 1})
		}
	}
	if len(refs) == 0 {
		return nil
	}

	prev, err := e.store.PreviousTurns(ctx, refs)
	if err != nil {
		return fmt.Errorf("expand: preceding turns: %w", err)
	}
	for i := range views {
		if views[i].Ord == 0 {
			continue
		}
		if p, ok := prev[store.TurnRef{DocID: views[i].DocID, Ord: views[i].Ord - 1}]; ok {
			views[i].PrecedingQuestion = &PrecedingTurn{
				TurnID:     p.ID,
				Speaker:    p.Speaker,
				Text:       p.Text,
				TokenCount: p.TokenCount,
			}
		}
	}
	return nil
}
