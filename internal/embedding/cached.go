package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/misconcept/internal/cache"
)

// CachedEmbedder memoises another Embedder's vectors in a cache.Client.
// Cache failures degrade to calling the inner embedder.
type CachedEmbedder struct {
	inner Embedder
	cache cache.Client
	ttl   time.Duration
}

// WithCache wraps e with a cache. A nil client returns e unchanged.
func WithCache(e Embedder, c cache.Client, ttl time.Duration) Embedder {
	if c == nil {
		return e
	}
	return &CachedEmbedder{inner: e, cache: c, ttl: ttl}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)

	for i, t := range texts {
		raw, err := c.cache.Get(ctx, c.key(t))
		if err != nil {
			if !errors.Is(err, cache.ErrCacheMiss) && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
			continue
		}
		var vec Embedding
		if err := json.Unmarshal(raw, &vec); err != nil || len(vec) != c.inner.Dimension() {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
			continue
		}
		out[i] = vec
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder %s returned %d vectors for %d texts", c.inner.Name(), len(fresh), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
		if raw, err := json.Marshal(fresh[j]); err == nil {
			// Best effort; a failed write only costs a future recomputation.
			_ = c.cache.Set(ctx, c.key(missTexts[j]), raw, c.ttl)
		}
	}
	return out, nil
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

func (c *CachedEmbedder) Name() string { return c.inner.Name() }

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(CleanText(text)))
	return "emb:" + c.inner.Name() + ":" + hex.EncodeToString(sum[:])
}
