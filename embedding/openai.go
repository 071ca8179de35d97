package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
)

// OpenAIEmbedder implements Embedder on the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    openaisdk.Client
	model     openaisdk.EmbeddingModel
	dimension int
}

// NewOpenAI creates an OpenAI-backed embedder. dimension is the expected
// vector dimension; every returned vector is verified against it.
func NewOpenAI(apiKey, baseURL, model string, dimension int) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{
		client:    openaisdk.NewClient(opts...),
		model:     openaisdk.EmbeddingModel(model),
		dimension: dimension,
	}
}

// Dimension returns the configured vector dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// Embed converts a single text to a vector embedding.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", apperrors.ErrEmbedderProtocol)
	}
	return vectors[0], nil
}

// EmbedBatch converts multiple texts with a single provider call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openaisdk.EmbeddingNewParams{
		Model: e.model,
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: create embeddings: %v", apperrors.ErrEmbedderUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d",
			apperrors.ErrEmbedderProtocol, len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for i, emb := range resp.Data {
		vec, err := checkDimension(emb.Embedding, e.dimension)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// checkDimension converts a provider vector to float32 and verifies its
// dimension.
func checkDimension(input []float64, expected int) ([]float32, error) {
	if len(input) != expected {
		return nil, fmt.Errorf("%w: embedding dimension %d, expected %d",
			apperrors.ErrEmbedderProtocol, len(input), expected)
	}
	vec := make([]float32, expected)
	for i, v := range input {
		vec[i] = float32(v)
	}
	return vec, nil
}
