package models

import "time"

// KeyConcept is a term defined within a topic's knowledge base.
type KeyConcept struct {
	Term       string     `json:"term"`
	Definition string     `json:"definition"`
	Importance Importance `json:"importance"`
}

// LearningObjective is a learner outcome tagged with a Bloom level.
type LearningObjective struct {
	Level     BloomLevel `json:"bloom_level"`
	Statement string     `json:"statement"`
}

// KnowledgeBaseEntry is the structured knowledge extracted for one topic.
type KnowledgeBaseEntry struct {
	ID                 string              `json:"id" db:"id"`
	TopicID            string              `json:"topic_id" db:"topic_id"`
	Summary            string              `json:"topic_summary" db:"summary"`
	KeyConcepts        []KeyConcept        `json:"key_concepts" db:"key_concepts"`
	LearningObjectives []LearningObjective `json:"learning_objectives" db:"learning_objectives"`
	Examples           []string            `json:"examples" db:"examples"`
	QualityScore       float64             `json:"content_quality_score" db:"quality_score"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at" db:"updated_at"`
}

// QAPair is a generated question and answer for a topic.
type QAPair struct {
	ID            string     `json:"id" db:"id"`
	TopicID       string     `json:"topic_id" db:"topic_id"`
	SessionID     string     `json:"session_id" db:"session_id"`
	Question      string     `json:"question" db:"question"`
	Answer        string     `json:"answer" db:"answer"`
	Explanation   string     `json:"explanation,omitempty" db:"explanation"`
	Difficulty    Difficulty `json:"difficulty_level" db:"difficulty"`
	BloomLevel    BloomLevel `json:"bloom_level" db:"bloom_level"`
	QualityScore  float64    `json:"quality_score" db:"quality_score"`
	TimesAsked    int        `json:"times_asked" db:"times_asked"`
	AverageRating float64    `json:"average_rating" db:"average_rating"`
	RatingCount   int        `json:"rating_count" db:"rating_count"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
