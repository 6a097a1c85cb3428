package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/hyperjump/bilgi/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. It returns a fixed-dimension
// vector derived from the text hash so that the same text always gets the same embedding.
type MockEmbedder struct {
	dimensions int
	model      string
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions, model: fmt.Sprintf("mock-%d", dimensions)}
}

// WithModel returns a copy of the embedder reporting a different model name,
// producing different vectors for the same text.
func (e *MockEmbedder) WithModel(model string) *MockEmbedder {
	return &MockEmbedder{dimensions: e.dimensions, model: model}
}

// Embed returns a deterministic unit vector based on the model and text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(e.model))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))
	seed := float64(h.Sum64()%1000003) + 1
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int { return e.dimensions }

// Model returns the mock model name.
func (e *MockEmbedder) Model() string { return e.model }

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error { return nil }
