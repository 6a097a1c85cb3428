// Package embedding provides text embedding via OpenAI-compatible APIs, ONNX,
// or a deterministic mock, with an LRU cache in front.
package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model names the embedding model; stored on chunks as embedding_model.
	Model() string
	Close() error
}

// Options selects and configures an embedder.
type Options struct {
	Provider   string
	Model      string
	Dimensions int
	MaxTokens  int
	CacheSize  int

	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// New builds the embedder for opts.Provider wrapped in an embedding cache.
func New(opts Options) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(opts.Provider) {
	case "mock":
		e = NewMockEmbedder(opts.Dimensions)
	case "openai":
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai embedder selected but OPENAI_API_KEY not set")
		}
		e = NewOpenAIEmbedder(opts)
	case "onnx", "":
		e, err = NewONNXEmbedder(opts.Model, opts.Dimensions, opts.MaxTokens)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", opts.Provider)
	}
	if opts.CacheSize > 0 {
		e = NewCached(e, opts.CacheSize)
	}
	return e, nil
}
