// Package vector provides chunk vector storage with filtered similarity search.
package vector

import (
	"context"
	"errors"
	"slices"
)

// ErrNotFound is returned by Update when the ID is not in the index.
var ErrNotFound = errors.New("vector: id not found")

// Metadata keys stored alongside chunk vectors.
const (
	MetaSessionID      = "session_id"
	MetaDocumentID     = "document_id"
	MetaChunkIndex     = "chunk_index"
	MetaEmbeddingModel = "embedding_model"
)

// Metadata is string-valued payload stored with a vector.
type Metadata map[string]string

// Item is a vector to upsert.
type Item struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Filter restricts a query. Zero fields match everything.
type Filter struct {
	SessionID  string
	DocumentID string
	// IDs restricts results to these vector IDs when non-empty.
	IDs []string
}

func (f *Filter) match(id string, meta Metadata) bool {
	if f == nil {
		return true
	}
	if f.SessionID != "" && meta[MetaSessionID] != f.SessionID {
		return false
	}
	if f.DocumentID != "" && meta[MetaDocumentID] != f.DocumentID {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, id) {
		return false
	}
	return true
}

// VectorIndex stores chunk vectors and answers similarity queries.
type VectorIndex interface {
	// Upsert inserts or replaces items by ID.
	Upsert(ctx context.Context, items []Item) error
	// Update replaces the vector and metadata of an existing ID in place.
	// It returns ErrNotFound when the ID is absent.
	Update(ctx context.Context, id string, vec []float32, meta Metadata) error
	Delete(ctx context.Context, ids []string) error
	// Query returns up to k results by descending cosine similarity.
	Query(ctx context.Context, vec []float32, k int, filter *Filter) ([]*VectorResult, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit (ID is the chunk ID).
type VectorResult struct {
	ID       string
	Score    float64 // cosine similarity in [-1, 1]
	Metadata Metadata
}
