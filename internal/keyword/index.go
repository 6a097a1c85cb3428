// Package keyword provides BM25 keyword search over topics and QA pairs.
package keyword

import (
	"context"
	"strings"

	"github.com/hyperjump/bilgi/internal/models"
)

// Record kinds stored in the index.
const (
	KindTopic = "topic"
	KindQA    = "qa"
)

// Record is an indexed searchable unit. Title carries a topic title or a QA
// question; Content carries topic keywords or a QA answer.
type Record struct {
	ID        string
	Kind      string
	SessionID string
	TopicID   string
	Title     string
	Content   string
}

// TopicRecord builds the index record for a topic.
func TopicRecord(t *models.Topic) *Record {
	return &Record{
		ID:        t.ID,
		Kind:      KindTopic,
		SessionID: t.SessionID,
		TopicID:   t.ID,
		Title:     t.Title,
		Content:   strings.Join(t.Keywords, " "),
	}
}

// QARecord builds the index record for a QA pair.
func QARecord(p *models.QAPair) *Record {
	return &Record{
		ID:        p.ID,
		Kind:      KindQA,
		SessionID: p.SessionID,
		TopicID:   p.TopicID,
		Title:     p.Question,
		Content:   p.Answer,
	}
}

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// Kind restricts hits to one record kind when set.
	Kind string
	// SessionID restricts hits to one session when set.
	SessionID string
	// TopicIDs restricts hits to these topics when non-empty.
	TopicIDs []string
	// TitleBoost multiplies the score contribution from matches in the title field.
	// Values > 1 make title matches rank higher (e.g. 3.0).
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Index(ctx context.Context, rec *Record) error
	IndexBatch(ctx context.Context, recs []*Record) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
	// DocCount returns the total number of records in the index.
	DocCount() (uint64, error)
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID      string
	Kind    string
	TopicID string
	Score   float64
}
