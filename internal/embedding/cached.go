package embedding

import (
	"context"

	"github.com/hyperjump/bilgi/internal/cache"
)

// Cached is an Embedder that serves repeated texts from an LRU cache.
type Cached struct {
	next  Embedder
	cache *cache.LRU[[]float32]
}

// NewCached wraps next with a cache of the given capacity.
func NewCached(next Embedder, capacity int) *Cached {
	return &Cached{next: next, cache: cache.New[[]float32](capacity, 0)}
}

// Embed returns the cached embedding or computes and stores it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}

// EmbedBatch embeds only the texts missing from the cache, in one batch.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := c.next.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[missingIdx[j]] = v
		c.cache.Set(missing[j], v)
	}
	return out, nil
}

// Dimensions implements Embedder.
func (c *Cached) Dimensions() int { return c.next.Dimensions() }

// Model implements Embedder.
func (c *Cached) Model() string { return c.next.Model() }

// Close closes the wrapped embedder.
func (c *Cached) Close() error { return c.next.Close() }
