// Package models defines core data structures for documents, chunks, topics,
// knowledge bases, QA pairs, and retrieval results.
package models

import "time"

// Document represents a stored source document belonging to a learning session.
type Document struct {
	ID        string                 `json:"id" db:"id"`
	SessionID string                 `json:"session_id" db:"session_id"`
	Title     string                 `json:"title" db:"title"`
	Content   string                 `json:"content" db:"content"`
	Metadata  map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// DocumentInput is the input for ingesting a document.
type DocumentInput struct {
	ID        string                 `json:"id,omitempty"`
	SessionID string                 `json:"session_id"`
	Title     string                 `json:"title,omitempty"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Chunk is a contiguous span of a document sized for embedding and retrieval.
// Text equals the source slice [CharStart, CharEnd) unless IsLLMImproved is set.
// The first OverlapLen bytes of Text repeat the tail of the previous chunk.
type Chunk struct {
	ID             string           `json:"id" db:"id"`
	DocumentID     string           `json:"document_id" db:"document_id"`
	SessionID      string           `json:"session_id" db:"session_id"`
	Index          int              `json:"chunk_index" db:"chunk_index"`
	Text           string           `json:"text" db:"text"`
	CharStart      int              `json:"char_start" db:"char_start"`
	CharEnd        int              `json:"char_end" db:"char_end"`
	OverlapLen     int              `json:"overlap_len" db:"overlap_len"`
	QualityScore   float64          `json:"quality_score" db:"quality_score"`
	Quality        QualityBreakdown `json:"quality" db:"quality"`
	LowQuality     bool             `json:"low_quality" db:"low_quality"`
	IsLLMImproved  bool             `json:"is_llm_improved" db:"is_llm_improved"`
	LLMModel       string           `json:"llm_model,omitempty" db:"llm_model"`
	EmbeddingModel string           `json:"embedding_model,omitempty" db:"embedding_model"`
	Embedding      []float32        `json:"-" db:"-"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// Body returns the chunk text without the leading overlap.
func (c *Chunk) Body() string {
	if c.OverlapLen <= 0 || c.OverlapLen > len(c.Text) {
		return c.Text
	}
	return c.Text[c.OverlapLen:]
}

// QualityBreakdown holds the per-dimension chunk quality scores, each in [0, 1].
type QualityBreakdown struct {
	SentenceBoundary    float64 `json:"sentence_boundary"`
	ContentCompleteness float64 `json:"content_completeness"`
	ReferenceIntegrity  float64 `json:"reference_integrity"`
	TopicCoherence      float64 `json:"topic_coherence"`
	SizeOptimization    float64 `json:"size_optimization"`
}
