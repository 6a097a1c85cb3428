package models

import "time"

// Topic is a teachable unit extracted from a session's chunks.
type Topic struct {
	ID                   string     `json:"topic_id" db:"id"`
	SessionID            string     `json:"session_id" db:"session_id"`
	Title                string     `json:"title" db:"title"`
	ParentTopicID        string     `json:"parent_topic_id,omitempty" db:"parent_topic_id"`
	Order                int        `json:"order" db:"topic_order"`
	Keywords             []string   `json:"keywords" db:"keywords"`
	Difficulty           Difficulty `json:"difficulty" db:"difficulty"`
	Prerequisites        []string   `json:"prerequisites" db:"prerequisites"`
	RelatedChunkIDs      []string   `json:"related_chunk_ids" db:"related_chunk_ids"`
	ExtractionConfidence float64    `json:"extraction_confidence" db:"extraction_confidence"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// TopicMatch is a topic matched to a query with a classification confidence.
type TopicMatch struct {
	TopicID    string  `json:"topic_id"`
	Title      string  `json:"title"`
	Confidence float64 `json:"confidence"`
}
