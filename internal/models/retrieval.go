package models

import (
	"slices"
	"time"
)

// RetrievalQuery is the input of a hybrid retrieval request.
type RetrievalQuery struct {
	SessionID    string   `json:"session_id"`
	Query        string   `json:"query"`
	TopK         int      `json:"top_k,omitempty"`
	TopicIDs     []string `json:"topic_ids,omitempty"`
	NoCache      bool     `json:"no_cache,omitempty"`
	NoFastPath   bool     `json:"no_fast_path,omitempty"`
	AutoFallback *bool    `json:"auto_fallback,omitempty"`
}

// FusedSource is one ranked source contributing to a retrieval result.
type FusedSource struct {
	Kind      SourceKind `json:"kind"`
	ID        string     `json:"id"`
	TopicID   string     `json:"topic_id,omitempty"`
	Text      string     `json:"text"`
	RawScore  float64    `json:"raw_score"`
	Weight    float64    `json:"weight"`
	Score     float64    `json:"score"`
	CreatedAt time.Time  `json:"created_at"`
}

// RetrievalResult is the output of a hybrid retrieval request.
type RetrievalResult struct {
	SessionID         string         `json:"session_id"`
	Query             string         `json:"query"`
	MatchedTopics     []TopicMatch   `json:"matched_topics"`
	DirectQAMatch     *QAPair        `json:"direct_qa_match,omitempty"`
	QASimilarity      float64        `json:"qa_similarity,omitempty"`
	FusedSources      []FusedSource  `json:"fused_sources"`
	Accept            bool           `json:"accept"`
	TopScore          float64        `json:"top_score"`
	LatencyClass      LatencyClass   `json:"latency_class"`
	Fallback          string         `json:"fallback,omitempty"`
	OutOfScopeMessage string         `json:"out_of_scope_message,omitempty"`
	Cached            bool           `json:"cached"`
	States            []string       `json:"states"`
	QueryTimeMs       int64          `json:"query_time_ms"`
}

// Clone returns a copy of r that shares no slices or pointers with it.
func (r *RetrievalResult) Clone() *RetrievalResult {
	cp := *r
	cp.MatchedTopics = slices.Clone(r.MatchedTopics)
	cp.FusedSources = slices.Clone(r.FusedSources)
	cp.States = slices.Clone(r.States)
	if r.DirectQAMatch != nil {
		qa := *r.DirectQAMatch
		cp.DirectQAMatch = &qa
	}
	return &cp
}
