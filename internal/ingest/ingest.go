// Package ingest stores documents and prepares them for retrieval: chunking,
// optional LLM refinement, persistence, embedding, and vector indexing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/bilgi/internal/chunking"
	"github.com/hyperjump/bilgi/internal/embedding"
	"github.com/hyperjump/bilgi/internal/ids"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/refine"
	"github.com/hyperjump/bilgi/internal/storage"
	"github.com/hyperjump/bilgi/internal/vector"
)

// DefaultExtensions are the file types IngestFile accepts by default.
var DefaultExtensions = []string{".txt", ".md"}

// DefaultSessionID is used when a document arrives without a session.
const DefaultSessionID = "default"

// ErrEmptyDocument is returned for documents with no text.
var ErrEmptyDocument = errors.New("document has no text")

// Result describes one ingested document.
type Result struct {
	Document   *models.Document `json:"document"`
	Chunks     int              `json:"chunks"`
	LowQuality int              `json:"low_quality"`
	Refine     *refine.Report   `json:"refine,omitempty"`
	Skipped    bool             `json:"skipped"`
}

// Pipeline ingests documents.
type Pipeline struct {
	store    storage.Storage
	chunker  *chunking.Chunker
	refiner  *refine.Refiner
	embedder embedding.Embedder
	vectors  vector.VectorIndex
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for the pipeline.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRefiner rewrites chunks through an LLM before they are stored.
func WithRefiner(r *refine.Refiner) Option {
	return func(p *Pipeline) { p.refiner = r }
}

// NewPipeline returns an ingestion pipeline.
func NewPipeline(store storage.Storage, chunker *chunking.Chunker, embedder embedding.Embedder, vectors vector.VectorIndex, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestDocument stores input and its chunks and indexes the chunk vectors.
// A document with an existing ID is replaced.
func (p *Pipeline) IngestDocument(ctx context.Context, input *models.DocumentInput) (*Result, error) {
	content := Preprocess(input.Content)
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyDocument
	}
	if input.ID == "" {
		input.ID = ids.NewDocumentID()
	}
	if input.SessionID == "" {
		input.SessionID = DefaultSessionID
	}
	if err := p.DeleteDocument(ctx, input.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("replace document: %w", err)
	}

	doc := &models.Document{
		ID:        input.ID,
		SessionID: input.SessionID,
		Title:     input.Title,
		Content:   content,
		Metadata:  input.Metadata,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	chunks := p.chunker.Chunk(doc.ID, doc.Content)
	res := &Result{Document: doc, Chunks: len(chunks)}
	for _, ch := range chunks {
		ch.SessionID = doc.SessionID
	}

	if p.refiner != nil {
		report, err := p.refiner.Refine(ctx, chunks)
		if err != nil {
			return nil, fmt.Errorf("refine chunks: %w", err)
		}
		res.Refine = &report
	}
	for _, ch := range chunks {
		if ch.LowQuality {
			res.LowQuality++
		}
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}
	items := make([]vector.Item, len(chunks))
	for i, ch := range chunks {
		ch.Embedding = embeddings[i]
		ch.EmbeddingModel = p.embedder.Model()
		items[i] = vector.Item{
			ID:     ch.ID,
			Vector: embeddings[i],
			Metadata: vector.Metadata{
				vector.MetaSessionID:      doc.SessionID,
				vector.MetaDocumentID:     doc.ID,
				vector.MetaChunkIndex:     strconv.Itoa(ch.Index),
				vector.MetaEmbeddingModel: ch.EmbeddingModel,
			},
		}
	}
	if err := p.store.BatchCreateChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}
	if err := p.vectors.Upsert(ctx, items); err != nil {
		return nil, fmt.Errorf("index vectors: %w", err)
	}

	p.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("session_id", doc.SessionID),
		zap.Int("chunks", res.Chunks),
		zap.Int("low_quality", res.LowQuality))
	return res, nil
}

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// IngestFile reads a text or markdown file and ingests it into sessionID.
// The document ID is derived from the absolute path, so re-ingesting a file
// replaces it. Unchanged files (same mtime and size) are skipped.
func (p *Pipeline) IngestFile(ctx context.Context, sessionID, path string, allowedExts []string) (*Result, error) {
	if len(allowedExts) == 0 {
		allowedExts = DefaultExtensions
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !extensionAllowed(filepath.Ext(absPath), allowedExts) {
		return nil, fmt.Errorf("extension %q not in allowed list", filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	docID := ids.FileDocumentID(absPath)
	if doc, ok := p.unchanged(ctx, absPath, docID, info); ok {
		p.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return &Result{Document: doc, Skipped: true}, nil
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return p.IngestDocument(ctx, &models.DocumentInput{
		ID:        docID,
		SessionID: sessionID,
		Title:     filepath.Base(absPath),
		Content:   string(content),
		Metadata: map[string]interface{}{
			metaKeySourcePath:  absPath,
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	})
}

// IngestDirectory walks dir and ingests every allowed regular file. It
// returns the number of files ingested and stops at the first error.
func (p *Pipeline) IngestDirectory(ctx context.Context, sessionID, dir string, allowedExts []string) (int, error) {
	if len(allowedExts) == 0 {
		allowedExts = DefaultExtensions
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	n := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() || !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		res, err := p.IngestFile(ctx, sessionID, path, allowedExts)
		if err != nil {
			if errors.Is(err, ErrEmptyDocument) {
				return nil
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		if !res.Skipped {
			n++
		}
		return nil
	})
	return n, err
}

// unchanged returns the stored document when it was ingested from absPath
// with the same mtime and size.
func (p *Pipeline) unchanged(ctx context.Context, absPath, docID string, info os.FileInfo) (*models.Document, bool) {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil || doc.Metadata == nil {
		return nil, false
	}
	if doc.Metadata[metaKeySourcePath] != absPath {
		return nil, false
	}
	// Stored as strings: UnixNano exceeds float64 precision after a JSON round trip.
	if metadataInt64(doc.Metadata, metaKeySourceMtime) != info.ModTime().UnixNano() ||
		metadataInt64(doc.Metadata, metaKeySourceSize) != info.Size() {
		return nil, false
	}
	return doc, true
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	switch n := m[key].(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// DeleteDocument removes a document's vectors, chunks, and row. It returns
// storage.ErrNotFound when the document does not exist.
func (p *Pipeline) DeleteDocument(ctx context.Context, id string) error {
	if _, err := p.store.GetDocument(ctx, id); err != nil {
		return err
	}
	chunks, err := p.store.GetChunksByDocumentID(ctx, id)
	if err != nil {
		return fmt.Errorf("get chunks: %w", err)
	}
	chunkIDs := make([]string, len(chunks))
	for i, ch := range chunks {
		chunkIDs[i] = ch.ID
	}
	if err := p.vectors.Delete(ctx, chunkIDs); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := p.store.DeleteChunksByDocumentID(ctx, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := p.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	p.logger.Debug("document deleted", zap.String("document_id", id))
	return nil
}

// FileHandler keeps the documents of one session in step with files on disk.
// It is driven by a directory watcher.
type FileHandler struct {
	pipeline    *Pipeline
	sessionID   string
	extensions  []string
	afterChange func()
}

// FileHandler returns a handler that ingests into sessionID. afterChange, when
// non-nil, runs after every file that changed the store.
func (p *Pipeline) FileHandler(sessionID string, extensions []string, afterChange func()) *FileHandler {
	return &FileHandler{pipeline: p, sessionID: sessionID, extensions: extensions, afterChange: afterChange}
}

// Ingest re-ingests path. A file that became empty is removed instead.
func (h *FileHandler) Ingest(ctx context.Context, path string) error {
	res, err := h.pipeline.IngestFile(ctx, h.sessionID, path, h.extensions)
	if errors.Is(err, ErrEmptyDocument) {
		return h.Remove(ctx, path)
	}
	if err != nil {
		return err
	}
	if !res.Skipped {
		h.changed()
	}
	return nil
}

// Remove deletes the document ingested from path. Unknown paths are ignored.
func (h *FileHandler) Remove(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = h.pipeline.DeleteDocument(ctx, ids.FileDocumentID(absPath))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	h.changed()
	return nil
}

func (h *FileHandler) changed() {
	if h.afterChange != nil {
		h.afterChange()
	}
}
