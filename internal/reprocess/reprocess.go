// Package reprocess re-embeds stored chunks after an embedding model change.
// Chunk rows keep their text and scores; only vectors and the embedding_model
// column change.
package reprocess

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/bilgi/internal/embedding"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/storage"
	"github.com/hyperjump/bilgi/internal/vector"
)

const defaultBatchSize = 32

// Report summarizes a reprocessing run.
type Report struct {
	Model string `json:"model"`
	Total int    `json:"total"`
	// Updated counts chunks whose vector was replaced in place.
	Updated int `json:"updated"`
	// FallbackReadded counts chunks that were missing from the index and were
	// deleted and added again.
	FallbackReadded int              `json:"fallback_readded"`
	Failed          map[string]error `json:"-"`
}

// FailedIDs returns the IDs of chunks that could not be reprocessed.
func (r *Report) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	return ids
}

// Manager re-embeds chunks into a vector index.
type Manager struct {
	store     storage.Storage
	vectors   vector.VectorIndex
	batchSize int
	logger    *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for the manager.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithBatchSize sets how many chunks are embedded per call.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// NewManager returns a reprocessing manager.
func NewManager(store storage.Storage, vectors vector.VectorIndex, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		vectors:   vectors,
		batchSize: defaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ReprocessDocument re-embeds every chunk of a document with e.
func (m *Manager) ReprocessDocument(ctx context.Context, documentID string, e embedding.Embedder) (*Report, error) {
	chunks, err := m.store.GetChunksByDocumentID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	return m.Reprocess(ctx, chunks, e)
}

// ReprocessSession re-embeds every chunk of a session with e.
func (m *Manager) ReprocessSession(ctx context.Context, sessionID string, e embedding.Embedder) (*Report, error) {
	chunks, err := m.store.GetChunksBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	return m.Reprocess(ctx, chunks, e)
}

// Reprocess re-embeds chunks with e. Each chunk's vector is updated in
// place; a chunk missing from the index is deleted and added again. A failed
// chunk is recorded in the report and does not stop the run. Only context
// cancellation is returned as an error.
func (m *Manager) Reprocess(ctx context.Context, chunks []*models.Chunk, e embedding.Embedder) (*Report, error) {
	report := &Report{Model: e.Model(), Total: len(chunks), Failed: make(map[string]error)}
	for start := 0; start < len(chunks); start += m.batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch := chunks[start:min(start+m.batchSize, len(chunks))]
		vecs := m.embed(ctx, batch, e, report)
		for i, ch := range batch {
			if vecs[i] == nil {
				continue
			}
			if err := m.apply(ctx, ch, vecs[i], e.Model(), report); err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				report.Failed[ch.ID] = err
				m.logger.Warn("chunk reprocessing failed", zap.String("chunk_id", ch.ID), zap.Error(err))
			}
		}
	}
	m.logger.Info("reprocessing finished",
		zap.String("model", report.Model),
		zap.Int("total", report.Total),
		zap.Int("updated", report.Updated),
		zap.Int("fallback_readded", report.FallbackReadded),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

// embed embeds a batch, falling back to one call per chunk when the batch
// call fails so that one bad chunk only fails itself.
func (m *Manager) embed(ctx context.Context, batch []*models.Chunk, e embedding.Embedder, report *Report) [][]float32 {
	texts := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Text
	}
	vecs, err := e.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) == len(batch) {
		return vecs
	}
	vecs = make([][]float32, len(batch))
	for i, ch := range batch {
		v, err := e.Embed(ctx, ch.Text)
		if err != nil {
			report.Failed[ch.ID] = fmt.Errorf("embed: %w", err)
			continue
		}
		vecs[i] = v
	}
	return vecs
}

func (m *Manager) apply(ctx context.Context, ch *models.Chunk, vec []float32, model string, report *Report) error {
	meta := vector.Metadata{
		vector.MetaSessionID:      ch.SessionID,
		vector.MetaDocumentID:     ch.DocumentID,
		vector.MetaChunkIndex:     strconv.Itoa(ch.Index),
		vector.MetaEmbeddingModel: model,
	}
	err := m.vectors.Update(ctx, ch.ID, vec, meta)
	switch {
	case err == nil:
		report.Updated++
	case errors.Is(err, vector.ErrNotFound):
		m.logger.Warn("vector missing, re-adding", zap.String("chunk_id", ch.ID))
		if err := m.vectors.Delete(ctx, []string{ch.ID}); err != nil {
			return fmt.Errorf("delete vector: %w", err)
		}
		if err := m.vectors.Upsert(ctx, []vector.Item{{ID: ch.ID, Vector: vec, Metadata: meta}}); err != nil {
			return fmt.Errorf("add vector: %w", err)
		}
		report.FallbackReadded++
	default:
		return fmt.Errorf("update vector: %w", err)
	}
	if err := m.store.UpdateChunkEmbeddingModel(ctx, ch.ID, model); err != nil {
		return fmt.Errorf("update chunk row: %w", err)
	}
	return nil
}
