// Package embedding turns text into fixed-dimensional vectors via an
// external provider, with an optional cache for query embeddings.
package embedding

import "context"

// Embedder converts text into dense vectors of a fixed dimension.
type Embedder interface {
	// Embed converts a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts with at most one provider call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the configured vector dimension.
	Dimension() int
}
