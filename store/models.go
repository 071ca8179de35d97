package store

import "time"

// Document is an ingested source. Immutable after ingestion.
type Document struct {
	ID          int64
	Source      string
	URL         string
	Title       string
	DocType     string // transcript | blog | text
	PublishedAt *time.Time
	Metadata    map[string]any
	RawText     string
}

// Turn is a contiguous utterance by a single speaker within a transcript
// document.
type Turn struct {
	ID           int64
	DocID        int64
	Ord          int
	Speaker      string
	StartTimeSec *float64
	SectionTitle string
	Text         string
	TokenCount   int
}

// Chunk is a token-bounded slice of text used as the retrieval unit. Chunks
// owned by a turn never cross the turn boundary.
type Chunk struct {
	ID         int64
	DocID      int64
	TurnID     *int64
	Ord        int
	Text       string
	TokenCount int
}

// Filters restricts retrieval to matching documents and speakers. All fields
// are optional and combined as AND.
type Filters struct {
	Source    string
	DocType   string
	StartDate *time.Time // inclusive lower bound on published_at
	EndDate   *time.Time // exclusive upper bound on published_at
	Speaker   string     // case-insensitive substring on the inherited speaker
}

// IsZero reports whether no filter field is set.
func (f *Filters) IsZero() bool {
	return f == nil || (f.Source == "" && f.DocType == "" && f.StartDate == nil && f.EndDate == nil && f.Speaker == "")
}

// ChunkMeta carries the document metadata attached to every retrieval hit.
type ChunkMeta struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at"`
	Source      string     `json:"source"`
	Speaker     string     `json:"speaker"`
}

// ChunkHit is a single retrieval result. Scores are comparable only within a
// single retrieval call.
type ChunkHit struct {
	ChunkID int64     `json:"chunk_id"`
	DocID   int64     `json:"doc_id"`
	Ord     int       `json:"ord"`
	Text    string    `json:"text"`
	Score   float64   `json:"score"`
	Meta    ChunkMeta `json:"metadata"`
}

// ChunkSimilarity is one row of a vector rerank over candidate chunk IDs.
type ChunkSimilarity struct {
	ChunkID    int64
	Similarity float64
}

// TurnChunkRow joins a chunk to its owning turn and document metadata. One
// row per (chunk, turn) pair; the same turn appears once per matching chunk.
type TurnChunkRow struct {
	ChunkID      int64
	TurnID       int64
	DocID        int64
	Ord          int
	Speaker      string
	SectionTitle string
	Text         string
	TokenCount   int
	Title        string
	URL          string
	PublishedAt  *time.Time
	Source       string
}

// TurnRef addresses a turn by document and ordinal.
type TurnRef struct {
	DocID int64
	Ord   int
}

// TurnLite is the subset of a turn used for preceding-question lookups and
// question/answer pairing.
type TurnLite struct {
	ID         int64  `json:"id"`
	DocID      int64  `json:"doc_id"`
	Ord        int    `json:"ord"`
	Speaker    string `json:"speaker"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// QAPair couples a turn with the turn immediately preceding it in the same
// document.
type QAPair struct {
	Question TurnLite `json:"question"`
	Answer   TurnLite `json:"answer"`
}
