package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/bilgi/internal/ingest"
	"github.com/hyperjump/bilgi/internal/knowledge"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/reprocess"
	"github.com/hyperjump/bilgi/internal/retrieval"
	"github.com/hyperjump/bilgi/internal/storage"
)

// Ratings outside this range are rejected.
const (
	minRating = 1.0
	maxRating = 5.0
)

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ingest document request",
		zap.String("id", input.ID),
		zap.String("session_id", input.SessionID),
		zap.String("title", input.Title))
	res, err := s.svc.Ingest.IngestDocument(r.Context(), &input)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyDocument) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.invalidate()
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.svc.Store.GetDocument(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.svc.Ingest.DeleteDocument(r.Context(), id); err != nil {
		s.respondStoreError(w, err, "document not found")
		return
	}
	s.invalidate()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Store.GetDocument(r.Context(), id); err != nil {
		s.respondStoreError(w, err, "document not found")
		return
	}
	chunks, err := s.svc.Store.GetChunksByDocumentID(r.Context(), id)
	if err != nil {
		s.logger.Error("get chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"document_id": id, "chunks": chunks})
}

type extractTopicsRequest struct {
	Method models.ExtractionMethod `json:"method"`
}

func (s *Server) handleExtractTopics(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var req extractTopicsRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	if req.Method != "" && req.Method != models.ExtractionFull && req.Method != models.ExtractionPartial {
		s.respondError(w, http.StatusBadRequest, "method must be full or partial")
		return
	}
	s.logger.Debug("extract topics request", zap.String("session_id", sessionID), zap.String("method", string(req.Method)))
	res, err := s.svc.Topics.Extract(r.Context(), sessionID, nil, req.Method)
	if err != nil {
		s.logger.Error("topic extraction failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.invalidate()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"result":   res,
		"coverage": res.Coverage(),
	})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	list, err := s.svc.Store.ListTopics(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("list topics failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID, "topics": list})
}

type extractKnowledgeRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleExtractKnowledge(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "id")
	var req extractKnowledgeRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	entry, err := s.svc.Knowledge.ExtractKnowledgeBase(r.Context(), topicID, req.Force)
	if err != nil {
		s.respondKnowledgeError(w, err)
		return
	}
	s.invalidate()
	s.respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "id")
	entry, err := s.svc.Store.GetKnowledgeBase(r.Context(), topicID)
	if err != nil {
		s.respondStoreError(w, err, "knowledge base not found")
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

type generateQARequest struct {
	Count        int                    `json:"count"`
	Distribution knowledge.Distribution `json:"distribution"`
}

func (s *Server) handleGenerateQA(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "id")
	var req generateQARequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	if req.Count < 0 {
		s.respondError(w, http.StatusBadRequest, "count must not be negative")
		return
	}
	pairs, report, err := s.svc.Knowledge.GenerateQAPairs(r.Context(), topicID, req.Count, req.Distribution)
	if err != nil {
		s.respondKnowledgeError(w, err)
		return
	}
	s.invalidate()
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"qa_pairs": pairs, "report": report})
}

func (s *Server) handleListQA(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "id")
	pairs, err := s.svc.Store.ListQAPairsByTopic(r.Context(), topicID)
	if err != nil {
		s.logger.Error("list qa pairs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"topic_id": topicID, "qa_pairs": pairs})
}

type rateQARequest struct {
	Rating float64 `json:"rating"`
}

func (s *Server) handleRateQA(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rateQARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Rating < minRating || req.Rating > maxRating {
		s.respondError(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}
	pair, err := s.svc.Store.RateQAPair(r.Context(), id, req.Rating)
	if err != nil {
		s.respondStoreError(w, err, "qa pair not found")
		return
	}
	s.respondJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var q models.RetrievalQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("retrieve request",
		zap.String("session_id", q.SessionID),
		zap.String("query", q.Query),
		zap.Int("top_k", q.TopK))
	res, err := s.svc.Retriever.Retrieve(r.Context(), &q)
	if err != nil {
		var rerr *retrieval.RetrievalError
		switch {
		case errors.Is(err, retrieval.ErrEmptyQuery):
			s.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, retrieval.ErrVectorSearch):
			s.logger.Error("vector search failed", zap.Error(err))
			s.respondError(w, http.StatusBadGateway, err.Error())
		case errors.As(err, &rerr):
			s.logger.Error("retrieval failed", zap.String("stage", string(rerr.Stage)), zap.Error(err))
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("retrieval failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

type reprocessRequest struct {
	DocumentID string `json:"document_id"`
	SessionID  string `json:"session_id"`
}

type reprocessResponse struct {
	*reprocess.Report
	FailedIDs []string `json:"failed_ids"`
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if (req.DocumentID == "") == (req.SessionID == "") {
		s.respondError(w, http.StatusBadRequest, "exactly one of document_id or session_id is required")
		return
	}
	var (
		report *reprocess.Report
		err    error
	)
	if req.DocumentID != "" {
		if _, err := s.svc.Store.GetDocument(r.Context(), req.DocumentID); err != nil {
			s.respondStoreError(w, err, "document not found")
			return
		}
		report, err = s.svc.Reprocess.ReprocessDocument(r.Context(), req.DocumentID, s.svc.Embedder)
	} else {
		report, err = s.svc.Reprocess.ReprocessSession(r.Context(), req.SessionID, s.svc.Embedder)
	}
	if err != nil {
		s.logger.Error("reprocess failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.invalidate()
	s.respondJSON(w, http.StatusOK, reprocessResponse{Report: report, FailedIDs: report.FailedIDs()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.Store.Counts(r.Context())
	if err != nil {
		s.logger.Error("status: counts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"counts":            counts,
		"vector_index_size": s.svc.Vectors.Size(),
		"vector_index_type": s.svc.Vectors.Type(),
		"embedding_model":   s.svc.Embedder.Model(),
	}
	if s.storage != nil {
		usage, err := storage.MeasureDiskUsage(
			s.storage.DatabasePath,
			s.storage.BleveIndexPath,
			s.storage.VectorIndexPath,
		)
		if err != nil {
			s.logger.Warn("disk usage failed", zap.Error(err))
		} else {
			resp["disk_usage"] = usage
			resp["disk_usage_bytes"] = usage.Total()
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// invalidate drops cached retrieval results after a write.
func (s *Server) invalidate() {
	if s.svc.Retriever != nil {
		s.svc.Retriever.InvalidateCache()
	}
}

// decodeOptional decodes a JSON body into v, accepting an empty body.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, notFound)
		return
	}
	s.logger.Error("storage error", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondKnowledgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "topic not found")
	case errors.Is(err, knowledge.ErrNoMaterial):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("knowledge generation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
