package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/store"
)

// stubTokenizer treats whitespace-separated words as tokens.
type stubTokenizer struct {
	vocab map[string]int
	words []string
}

func newStubTokenizer() *stubTokenizer {
	return &stubTokenizer{vocab: map[string]int{}}
}

func (s *stubTokenizer) Encode(text string) []int {
	var out []int
	for _, w := range strings.Fields(text) {
		id, ok := s.vocab[w]
		if !ok {
			id = len(s.words)
			s.vocab[w] = id
			s.words = append(s.words, w)
		}
		out = append(out, id)
	}
	return out
}

func (s *stubTokenizer) Decode(tokens []int) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = s.words[t]
	}
	return strings.Join(parts, " ")
}

type stubIngestStore struct {
	lastReq *store.IngestRequest
	err     error
}

func (s *stubIngestStore) IngestDocument(ctx context.Context, req *store.IngestRequest) (*store.IngestResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.lastReq = req
	res := &store.IngestResult{
		DocID:      42,
		TurnIDs:    make([]int64, len(req.Turns)),
		ChunkIDs:   make([]int64, len(req.Chunks)),
		Embeddings: len(req.Embeddings),
	}
	return res, nil
}

type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return 3 }

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = string(rune('a' + i%26))
	}
	return strings.Join(parts, " ")
}

func TestCleanNormalisesWhitespace(t *testing.T) {
	got := Clean("line one\nline   two\\  end\n")
	if got != "line one line two end" {
		t.Fatalf("unexpected cleaned text %q", got)
	}
	if Clean("") != "" {
		t.Fatal("empty text must pass through")
	}
}

func TestChunkerSlidingWindowWithOverlap(t *testing.T) {
	c, err := NewChunker(newStubTokenizer(), 2, 4, 1)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	chunks := c.Chunk(words(10), 0)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Ord != i {
			t.Fatalf("chunk %d has ord %d", i, ch.Ord)
		}
		if ch.TokenCount != 4 {
			t.Fatalf("chunk %d has %d tokens", i, ch.TokenCount)
		}
	}
	// Overlap of 1: the second window starts at the last token of the first.
	firstWords := strings.Fields(chunks[0].Text)
	secondWords := strings.Fields(chunks[1].Text)
	if firstWords[3] != secondWords[0] {
		t.Fatalf("expected overlap, got %q then %q", chunks[0].Text, chunks[1].Text)
	}
}

func TestChunkerShortFinalWindowKept(t *testing.T) {
	c, err := NewChunker(newStubTokenizer(), 3, 4, 0)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	chunks := c.Chunk(words(9), 0)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[2].TokenCount != 1 {
		t.Fatalf("final chunk should keep its single token, got %d", chunks[2].TokenCount)
	}
}

func TestChunkerBaseOrdinal(t *testing.T) {
	c, err := NewChunker(newStubTokenizer(), 0, 4, 0)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	chunks := c.Chunk(words(8), 5)
	if chunks[0].Ord != 5 || chunks[1].Ord != 6 {
		t.Fatalf("unexpected ordinals %d %d", chunks[0].Ord, chunks[1].Ord)
	}
}

func TestChunkerEmptyText(t *testing.T) {
	c, err := NewChunker(newStubTokenizer(), 0, 4, 0)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	if got := c.Chunk("", 0); got != nil {
		t.Fatalf("expected no chunks, got %v", got)
	}
}

func TestChunkerRejectsBadGeometry(t *testing.T) {
	tok := newStubTokenizer()
	cases := []struct {
		name              string
		min, max, overlap int
	}{
		{"overlap equals max", 0, 4, 4},
		{"min above max", 5, 4, 0},
		{"zero max", 0, 0, 0},
		{"negative overlap", 0, 4, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewChunker(tok, tc.min, tc.max, tc.overlap); !errors.Is(err, apperrors.ErrBadInput) {
				t.Fatalf("expected ErrBadInput, got %v", err)
			}
		})
	}
}

func TestIngestTextStoresChunksAndEmbeddings(t *testing.T) {
	st := &stubIngestStore{}
	emb := &stubEmbedder{}
	chunker, _ := NewChunker(newStubTokenizer(), 0, 4, 0)
	p := NewPipeline(st, emb, chunker)

	res, err := p.IngestText(context.Background(), &TextInput{
		Source: "notes",
		Title:  "doc",
		Text:   words(10),
	})
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if res.DocID != 42 || res.ChunkCount != 3 || res.TurnCount != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if st.lastReq.Doc.DocType != "text" {
		t.Fatalf("expected default doc type, got %q", st.lastReq.Doc.DocType)
	}
	if len(st.lastReq.Embeddings) != len(st.lastReq.Chunks) {
		t.Fatalf("embeddings not aligned: %d vs %d", len(st.lastReq.Embeddings), len(st.lastReq.Chunks))
	}
	if emb.calls != 1 {
		t.Fatalf("expected a single batched embed call, got %d", emb.calls)
	}
	for _, c := range st.lastReq.Chunks {
		if c.TurnIdx != nil {
			t.Fatal("raw text chunks must not reference turns")
		}
	}
}

func TestIngestTextRejectsEmpty(t *testing.T) {
	chunker, _ := NewChunker(newStubTokenizer(), 0, 4, 0)
	p := NewPipeline(&stubIngestStore{}, nil, chunker)
	if _, err := p.IngestText(context.Background(), &TextInput{Text: "  \n "}); !errors.Is(err, apperrors.ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestIngestTranscriptKeepsTurnBoundaries(t *testing.T) {
	st := &stubIngestStore{}
	chunker, _ := NewChunker(newStubTokenizer(), 0, 3, 0)
	p := NewPipeline(st, nil, chunker)

	res, err := p.IngestTranscript(context.Background(), &TranscriptInput{
		Source: "podcast",
		Title:  "ep1",
		Turns: []TurnInput{
			{Speaker: "Host", Text: "one two three four five"},
			{Speaker: "Guest", Text: "six seven"},
		},
	})
	if err != nil {
		t.Fatalf("IngestTranscript: %v", err)
	}
	if res.TurnCount != 2 || res.ChunkCount != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	req := st.lastReq
	if req.Doc.DocType != "transcript" {
		t.Fatalf("expected default doc type, got %q", req.Doc.DocType)
	}
	// Ordinals stay contiguous across turns.
	for i, c := range req.Chunks {
		if c.Ord != i {
			t.Fatalf("chunk %d has ord %d", i, c.Ord)
		}
	}
	// The first two chunks belong to turn 0, the last to turn 1.
	if *req.Chunks[0].TurnIdx != 0 || *req.Chunks[1].TurnIdx != 0 || *req.Chunks[2].TurnIdx != 1 {
		t.Fatalf("chunks attached to wrong turns: %v %v %v",
			*req.Chunks[0].TurnIdx, *req.Chunks[1].TurnIdx, *req.Chunks[2].TurnIdx)
	}
	// Turn token counts sum their chunk tokens.
	if req.Turns[0].TokenCount != 5 || req.Turns[1].TokenCount != 2 {
		t.Fatalf("unexpected turn token counts %d %d", req.Turns[0].TokenCount, req.Turns[1].TokenCount)
	}
	if req.Doc.RawText != "one two three four five\n\nsix seven" {
		t.Fatalf("unexpected raw text %q", req.Doc.RawText)
	}
	if len(req.Embeddings) != 0 {
		t.Fatal("nil embedder must not produce embeddings")
	}
}

func TestIngestTranscriptCleansTurnText(t *testing.T) {
	st := &stubIngestStore{}
	chunker, _ := NewChunker(newStubTokenizer(), 0, 10, 0)
	p := NewPipeline(st, nil, chunker)

	_, err := p.IngestTranscript(context.Background(), &TranscriptInput{
		Turns: []TurnInput{{Speaker: "Host", Text: "hello\nworld\\  again"}},
	})
	if err != nil {
		t.Fatalf("IngestTranscript: %v", err)
	}
	if st.lastReq.Turns[0].Text != "hello world again" {
		t.Fatalf("turn text not cleaned: %q", st.lastReq.Turns[0].Text)
	}
}

func TestIngestTranscriptRejectsNoTurns(t *testing.T) {
	chunker, _ := NewChunker(newStubTokenizer(), 0, 4, 0)
	p := NewPipeline(&stubIngestStore{}, nil, chunker)
	if _, err := p.IngestTranscript(context.Background(), &TranscriptInput{}); !errors.Is(err, apperrors.ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestIngestStoreFailurePropagates(t *testing.T) {
	chunker, _ := NewChunker(newStubTokenizer(), 0, 4, 0)
	p := NewPipeline(&stubIngestStore{err: apperrors.ErrStoreUnavailable}, nil, chunker)
	_, err := p.IngestText(context.Background(), &TextInput{Text: "some text"})
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
