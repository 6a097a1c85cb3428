// Package server provides the HTTP API for bilgi.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/bilgi/internal/config"
	"github.com/hyperjump/bilgi/internal/embedding"
	"github.com/hyperjump/bilgi/internal/ingest"
	"github.com/hyperjump/bilgi/internal/knowledge"
	"github.com/hyperjump/bilgi/internal/reprocess"
	"github.com/hyperjump/bilgi/internal/retrieval"
	"github.com/hyperjump/bilgi/internal/storage"
	"github.com/hyperjump/bilgi/internal/topics"
	"github.com/hyperjump/bilgi/internal/vector"
)

// Services are the components the API dispatches to.
type Services struct {
	Store     storage.Storage
	Vectors   vector.VectorIndex
	Embedder  embedding.Embedder
	Ingest    *ingest.Pipeline
	Topics    *topics.Extractor
	Knowledge *knowledge.Extractor
	Retriever *retrieval.Retriever
	Reprocess *reprocess.Manager
}

// Server is the HTTP server for the bilgi API.
type Server struct {
	svc     Services
	storage *config.StorageConfig
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. storageCfg may be
// nil, in which case status omits disk usage.
func NewServer(svc Services, cfg *config.ServerConfig, storageCfg *config.StorageConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:     svc,
		storage: storageCfg,
		config:  cfg,
		logger:  logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleIngestDocument)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/documents/{id}/chunks", s.handleGetChunks)

		r.Post("/sessions/{id}/topics", s.handleExtractTopics)
		r.Get("/sessions/{id}/topics", s.handleListTopics)

		r.Post("/topics/{id}/knowledge", s.handleExtractKnowledge)
		r.Get("/topics/{id}/knowledge", s.handleGetKnowledge)
		r.Post("/topics/{id}/qa", s.handleGenerateQA)
		r.Get("/topics/{id}/qa", s.handleListQA)
		r.Post("/qa/{id}/rating", s.handleRateQA)

		r.Post("/retrieve", s.handleRetrieve)
		r.Post("/reprocess", s.handleReprocess)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
