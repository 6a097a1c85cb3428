package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperjump/bilgi/pkg/utils"
)

// maxOpenAIBatch is the number of inputs sent per embeddings request.
const maxOpenAIBatch = 256

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for opts.Model.
func NewOpenAIEmbedder(opts Options) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      opts.Model,
		dimensions: opts.Dimensions,
	}
}

// Embed returns the embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in request-sized groups, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxOpenAIBatch {
		end := min(start+maxOpenAIBatch, len(texts))
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: texts[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("create openai embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), end-start)
		}
		batch := make([][]float32, len(resp.Data))
		for _, datum := range resp.Data {
			if e.dimensions > 0 && len(datum.Embedding) != e.dimensions {
				return nil, fmt.Errorf("openai embedding dimension mismatch: expected %d, got %d", e.dimensions, len(datum.Embedding))
			}
			if datum.Index < 0 || datum.Index >= len(batch) {
				return nil, fmt.Errorf("openai embedding index %d out of range", datum.Index)
			}
			utils.NormalizeL2(datum.Embedding)
			batch[datum.Index] = datum.Embedding
		}
		results = append(results, batch...)
	}
	return results, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error { return nil }
