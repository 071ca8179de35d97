package ingest

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
)

// Tokenizer encodes text to token IDs and back. The production implementation
// wraps tiktoken; tests substitute a deterministic stub.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// TiktokenTokenizer counts tokens the way the embedding and chat models do.
type TiktokenTokenizer struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the cl100k_base encoding.
func NewTiktokenTokenizer() (*TiktokenTokenizer, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("%w: load tokenizer: %v", apperrors.ErrInternal, err)
	}
	return &TiktokenTokenizer{encoding: encoding}, nil
}

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.encoding.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.encoding.Decode(tokens)
}

// Chunk is one token-bounded slice of a document or turn.
type Chunk struct {
	Text       string
	TokenCount int
	Ord        int
}

// Chunker splits text into windows of at most maxTokens tokens, each window
// starting overlapTokens before the previous window's end. Windows shorter
// than minTokens are skipped unless they close the text.
type Chunker struct {
	tokenizer     Tokenizer
	minTokens     int
	maxTokens     int
	overlapTokens int
}

// NewChunker validates the window geometry. Overlap must leave the window a
// positive step or the scan cannot advance.
func NewChunker(tokenizer Tokenizer, minTokens, maxTokens, overlapTokens int) (*Chunker, error) {
	if maxTokens < 1 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", apperrors.ErrBadInput, maxTokens)
	}
	if minTokens < 0 || minTokens > maxTokens {
		return nil, fmt.Errorf("%w: min tokens %d outside [0, %d]", apperrors.ErrBadInput, minTokens, maxTokens)
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, fmt.Errorf("%w: overlap %d outside [0, %d)", apperrors.ErrBadInput, overlapTokens, maxTokens)
	}
	return &Chunker{
		tokenizer:     tokenizer,
		minTokens:     minTokens,
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
	}, nil
}

// Chunk splits text into ordered chunks. Ordinals start at the given base so
// turn-aware callers can keep a document-wide sequence.
func (c *Chunker) Chunk(text string, baseOrd int) []Chunk {
	tokens := c.tokenizer.Encode(text)
	if len(tokens) == 0 {
		return nil
	}

	var chunks []Chunk
	ord := baseOrd
	start := 0
	for start < len(tokens) {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		last := end == len(tokens)

		if len(window) >= c.minTokens || last {
			chunks = append(chunks, Chunk{
				Text:       strings.TrimSpace(c.tokenizer.Decode(window)),
				TokenCount: len(window),
				Ord:        ord,
			})
			ord++
		}
		if last {
			break
		}
		start = end - c.overlapTokens
	}
	return chunks
}
