// Package storage defines the persistence interface for documents, chunks,
// topics, knowledge base entries, and QA pairs.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/bilgi/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Counts holds row totals for the status endpoint.
type Counts struct {
	Documents int64 `json:"documents"`
	Chunks    int64 `json:"chunks"`
	Topics    int64 `json:"topics"`
	Knowledge int64 `json:"knowledge_entries"`
	QAPairs   int64 `json:"qa_pairs"`
}

// Storage defines persistence operations. Multi-row writes are transactional.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	// ListDocuments returns documents of a session, or of all sessions when sessionID is empty.
	ListDocuments(ctx context.Context, sessionID string, offset, limit int) ([]*models.Document, error)

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	GetChunksBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error)
	GetChunksByIDs(ctx context.Context, ids []string) ([]*models.Chunk, error)
	// UpdateChunkEmbeddingModel sets only the embedding_model column of one chunk.
	UpdateChunkEmbeddingModel(ctx context.Context, chunkID, model string) error
	DeleteChunksByDocumentID(ctx context.Context, docID string) error

	// Topic operations
	// ReplaceTopics deletes every topic of the session and inserts topics.
	ReplaceTopics(ctx context.Context, sessionID string, topics []*models.Topic) error
	AppendTopics(ctx context.Context, topics []*models.Topic) error
	UpdateTopic(ctx context.Context, topic *models.Topic) error
	GetTopic(ctx context.Context, id string) (*models.Topic, error)
	ListTopics(ctx context.Context, sessionID string) ([]*models.Topic, error)

	// Knowledge base operations
	UpsertKnowledgeBase(ctx context.Context, entry *models.KnowledgeBaseEntry) error
	GetKnowledgeBase(ctx context.Context, topicID string) (*models.KnowledgeBaseEntry, error)

	// QA operations
	CreateQAPairs(ctx context.Context, pairs []*models.QAPair) error
	GetQAPair(ctx context.Context, id string) (*models.QAPair, error)
	ListQAPairsByTopic(ctx context.Context, topicIDs ...string) ([]*models.QAPair, error)
	ListQAPairsBySession(ctx context.Context, sessionID string) ([]*models.QAPair, error)
	// IncrementTimesAsked bumps times_asked with a single atomic UPDATE.
	IncrementTimesAsked(ctx context.Context, id string) error
	// RateQAPair folds rating into average_rating atomically and returns the updated pair.
	RateQAPair(ctx context.Context, id string, rating float64) (*models.QAPair, error)

	// Stats
	Counts(ctx context.Context) (Counts, error)

	Close() error
}
