package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
)

const defaultCacheTTL = 24 * time.Hour

// CachedEmbedder decorates an Embedder with a Redis cache keyed on the text
// and model. Cache failures are logged and fall through to the inner
// embedder; the cache can never make a request fail.
type CachedEmbedder struct {
	inner  Embedder
	client *redis.Client
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps inner with a Redis cache. A nil client yields a
// pass-through decorator.
func NewCached(inner Embedder, client *redis.Client, model string) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		client: client,
		model:  model,
		ttl:    defaultCacheTTL,
		logger: logging.WithComponent("embedding-cache"),
	}
}

// Dimension returns the inner embedder's dimension.
func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

// Embed returns a cached vector when available, otherwise delegates to the
// inner embedder and stores the result.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.client == nil {
		return c.inner.Embed(ctx, text)
	}

	key := c.key(text)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil && len(vec) == c.inner.Dimension() {
			return vec, nil
		}
		c.logger.Warn("discarding malformed cache entry", "key", key)
	} else if err != redis.Nil {
		c.logger.Warn("cache read failed", "error", err)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(vec); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", "error", err)
		}
	}
	return vec, nil
}

// EmbedBatch always delegates; batches are ingestion-time traffic and not
// worth cache churn.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.model + ":" + hex.EncodeToString(sum[:])
}
