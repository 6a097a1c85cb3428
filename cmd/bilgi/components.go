package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/bilgi/internal/chunking"
	"github.com/hyperjump/bilgi/internal/config"
	"github.com/hyperjump/bilgi/internal/embedding"
	"github.com/hyperjump/bilgi/internal/graph"
	"github.com/hyperjump/bilgi/internal/ingest"
	"github.com/hyperjump/bilgi/internal/keyword"
	"github.com/hyperjump/bilgi/internal/knowledge"
	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/refine"
	"github.com/hyperjump/bilgi/internal/reprocess"
	"github.com/hyperjump/bilgi/internal/retrieval"
	"github.com/hyperjump/bilgi/internal/server"
	"github.com/hyperjump/bilgi/internal/similarity"
	"github.com/hyperjump/bilgi/internal/storage"
	"github.com/hyperjump/bilgi/internal/topics"
	"github.com/hyperjump/bilgi/internal/vector"
)

// Components holds every initialized service for one process.
type Components struct {
	cfg    *config.Config
	logger *zap.Logger

	Storage      storage.Storage
	Embedder     embedding.Embedder
	VectorIndex  vector.VectorIndex
	KeywordIndex keyword.KeywordIndex
	LLM          llm.Client
	Graph        *graph.Neo4jSink

	Ingest    *ingest.Pipeline
	Topics    *topics.Extractor
	Knowledge *knowledge.Extractor
	Retriever *retrieval.Retriever
	Reprocess *reprocess.Manager
}

// Services returns the components the HTTP server dispatches to.
func (c *Components) Services() server.Services {
	return server.Services{
		Store:     c.Storage,
		Vectors:   c.VectorIndex,
		Embedder:  c.Embedder,
		Ingest:    c.Ingest,
		Topics:    c.Topics,
		Knowledge: c.Knowledge,
		Retriever: c.Retriever,
		Reprocess: c.Reprocess,
	}
}

// SaveVectors persists a file-backed vector index.
func (c *Components) SaveVectors() {
	if c.VectorIndex == nil || c.VectorIndex.Type() != string(vector.IndexTypeMemory) || c.cfg.Storage.VectorIndexPath == "" {
		return
	}
	if err := c.VectorIndex.Save(c.cfg.Storage.VectorIndexPath); err != nil {
		c.logger.Warn("vector index save failed", zap.String("path", c.cfg.Storage.VectorIndexPath), zap.Error(err))
	}
}

// Close releases every component.
func (c *Components) Close() {
	if c.Graph != nil {
		_ = c.Graph.Close(context.Background())
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedder, err := embedding.New(cfg.EmbeddingOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	vectors, err := vector.NewVectorIndex(ctx, cfg.VectorOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.VectorIndex = vectors
	if c.VectorIndex.Type() == string(vector.IndexTypeMemory) && cfg.Storage.VectorIndexPath != "" {
		if loadErr := c.VectorIndex.Load(cfg.Storage.VectorIndexPath); loadErr != nil {
			logger.Warn("vector index load skipped (run reprocess to rebuild)",
				zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(loadErr))
		}
	}
	logger.Info("vector index initialized",
		zap.String("type", c.VectorIndex.Type()),
		zap.Int("size", c.VectorIndex.Size()))

	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kw

	c.LLM, err = llm.NewClient(cfg.LLMOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}

	sim, err := similarity.New(cfg.Similarity.Strategy, c.Embedder)
	if err != nil {
		return nil, err
	}

	if cfg.Graph.Enabled {
		sink, err := graph.NewNeo4jSink(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password, cfg.Graph.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		c.Graph = sink
	}

	chunker, err := chunking.NewChunker(cfg.ChunkingOptions(), chunking.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("invalid chunking options: %w", err)
	}
	ingestOpts := []ingest.Option{ingest.WithLogger(logger)}
	if cfg.Refine.Enabled {
		refiner := refine.New(c.LLM, cfg.RefineOptions(),
			refine.WithLogger(logger),
			refine.WithValidator(chunker.Validator()))
		ingestOpts = append(ingestOpts, ingest.WithRefiner(refiner))
	}
	c.Ingest = ingest.NewPipeline(c.Storage, chunker, c.Embedder, c.VectorIndex, ingestOpts...)

	topicOpts := []topics.Option{
		topics.WithLogger(logger),
		topics.WithSimilarity(sim),
		topics.WithKeywordIndex(c.KeywordIndex),
	}
	if c.Graph != nil {
		topicOpts = append(topicOpts, topics.WithGraphSink(c.Graph))
	}
	c.Topics = topics.NewExtractor(c.LLM, c.Storage, cfg.TopicsOptions(), topicOpts...)

	c.Knowledge = knowledge.NewExtractor(c.LLM, c.Storage, cfg.KnowledgeOptions(),
		knowledge.WithLogger(logger),
		knowledge.WithSimilarity(sim),
		knowledge.WithKeywordIndex(c.KeywordIndex))

	classifier, err := newClassifier(cfg, c)
	if err != nil {
		return nil, err
	}
	c.Retriever, err = retrieval.New(c.Storage, c.Embedder, c.VectorIndex, cfg.RetrievalOptions(),
		retrieval.WithLogger(logger),
		retrieval.WithSimilarity(sim),
		retrieval.WithClassifier(classifier))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}

	c.Reprocess = reprocess.NewManager(c.Storage, c.VectorIndex, reprocess.WithLogger(logger))
	return c, nil
}

// newClassifier returns the configured topic classifier; "none" disables
// classification so retrieval searches the whole session.
func newClassifier(cfg *config.Config, c *Components) (retrieval.Classifier, error) {
	if cfg.Retrieval.Classifier == "none" {
		return nil, nil
	}
	cl, err := retrieval.NewClassifier(cfg.Retrieval.Classifier, c.Embedder, c.KeywordIndex, c.LLM, cfg.LLM.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}
	return cl, nil
}

var errGraphDisabled = errors.New("graph export is disabled (set graph.enabled in config)")
