package models

import "strings"

// Difficulty is the pedagogical difficulty of a topic or QA pair.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Rank orders difficulties ascending. Unknown values rank as intermediate.
func (d Difficulty) Rank() int {
	switch d {
	case DifficultyBeginner:
		return 0
	case DifficultyAdvanced:
		return 2
	default:
		return 1
	}
}

// ParseDifficulty maps free-form LLM output (English or Turkish) to a Difficulty.
func ParseDifficulty(s string) (Difficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "beginner", "easy", "basic", "başlangıç", "kolay", "temel":
		return DifficultyBeginner, true
	case "intermediate", "medium", "orta":
		return DifficultyIntermediate, true
	case "advanced", "hard", "ileri", "zor":
		return DifficultyAdvanced, true
	}
	return DifficultyIntermediate, false
}

// BloomLevel is a level of Bloom's taxonomy.
type BloomLevel string

const (
	BloomRemember   BloomLevel = "remember"
	BloomUnderstand BloomLevel = "understand"
	BloomApply      BloomLevel = "apply"
	BloomAnalyze    BloomLevel = "analyze"
	BloomEvaluate   BloomLevel = "evaluate"
	BloomCreate     BloomLevel = "create"
)

var bloomOrder = []BloomLevel{BloomRemember, BloomUnderstand, BloomApply, BloomAnalyze, BloomEvaluate, BloomCreate}

// Rank returns the position of the level in the taxonomy, or -1 if unknown.
func (b BloomLevel) Rank() int {
	for i, l := range bloomOrder {
		if l == b {
			return i
		}
	}
	return -1
}

// ParseBloomLevel normalizes s to a BloomLevel.
func ParseBloomLevel(s string) (BloomLevel, bool) {
	l := BloomLevel(strings.ToLower(strings.TrimSpace(s)))
	if l.Rank() < 0 {
		return BloomUnderstand, false
	}
	return l, true
}

// Importance ranks a key concept within its topic.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// ExtractionMethod selects how topic extraction treats previously stored topics.
type ExtractionMethod string

const (
	// ExtractionFull replaces all topics of the session.
	ExtractionFull ExtractionMethod = "full"
	// ExtractionPartial appends only topics that do not duplicate existing ones.
	ExtractionPartial ExtractionMethod = "partial"
)

// SourceKind identifies where a fused retrieval source came from.
type SourceKind string

const (
	SourceChunk SourceKind = "chunk"
	SourceKB    SourceKind = "kb"
	SourceQA    SourceKind = "qa"
)

// LatencyClass reports which retrieval path answered a query.
type LatencyClass string

const (
	LatencyFastPath LatencyClass = "fast_path"
	LatencyStandard LatencyClass = "standard"
)
