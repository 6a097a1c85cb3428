package vector

import (
	"context"
	"fmt"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search persisted to a file.
	IndexTypeMemory IndexType = "memory"
	// IndexTypePGVector stores vectors in PostgreSQL with the pgvector extension.
	IndexTypePGVector IndexType = "pgvector"
)

// Options selects and configures a vector index.
type Options struct {
	Type        string
	Dimensions  int
	PostgresDSN string
}

// NewVectorIndex creates a vector index of the configured type.
// Supported types: "memory" (default), "pgvector".
func NewVectorIndex(ctx context.Context, opts Options) (VectorIndex, error) {
	switch IndexType(opts.Type) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(opts.Dimensions)
	case IndexTypePGVector:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("pgvector index requires a postgres dsn")
		}
		return OpenPGVectorIndex(ctx, opts.PostgresDSN, opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, pgvector)", opts.Type)
	}
}
