// Package knowledge builds per-topic knowledge base entries and generates
// quality-checked, deduplicated QA pairs with an LLM.
package knowledge

import (
	"fmt"

	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/retry"
)

// Distribution is the number of QA pairs requested per difficulty.
type Distribution struct {
	Beginner     int `yaml:"beginner" json:"beginner"`
	Intermediate int `yaml:"intermediate" json:"intermediate"`
	Advanced     int `yaml:"advanced" json:"advanced"`
}

// DefaultDistribution is 5 beginner, 7 intermediate and 3 advanced pairs.
func DefaultDistribution() Distribution {
	return Distribution{Beginner: 5, Intermediate: 7, Advanced: 3}
}

// Total returns the number of pairs requested.
func (d Distribution) Total() int {
	return d.Beginner + d.Intermediate + d.Advanced
}

// Scale returns d resized to total pairs, keeping proportions. Rounding
// remainders go to intermediate.
func (d Distribution) Scale(total int) Distribution {
	cur := d.Total()
	if cur == 0 || total <= 0 {
		return Distribution{}
	}
	out := Distribution{
		Beginner: d.Beginner * total / cur,
		Advanced: d.Advanced * total / cur,
	}
	out.Intermediate = total - out.Beginner - out.Advanced
	return out
}

// counts lists the non-zero difficulties in ascending order.
func (d Distribution) counts() []struct {
	Difficulty models.Difficulty
	N          int
} {
	var out []struct {
		Difficulty models.Difficulty
		N          int
	}
	for _, c := range []struct {
		Difficulty models.Difficulty
		N          int
	}{
		{models.DifficultyBeginner, d.Beginner},
		{models.DifficultyIntermediate, d.Intermediate},
		{models.DifficultyAdvanced, d.Advanced},
	} {
		if c.N > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Options configures knowledge extraction.
type Options struct {
	Workers int
	// MaxMaterialChars bounds the topic material sent to the LLM.
	MaxMaterialChars int

	SummaryMinWords int
	SummaryMaxWords int
	MinConcepts     int
	MinObjectives   int
	MinBloomLevels  int

	QACount            int
	Distribution       Distribution
	MinQAQuality       float64
	DuplicateThreshold float64

	Retry retry.Policy
}

// DefaultOptions returns the production knowledge extraction parameters.
func DefaultOptions() Options {
	return Options{
		Workers:            3,
		MaxMaterialChars:   12000,
		SummaryMinWords:    150,
		SummaryMaxWords:    400,
		MinConcepts:        5,
		MinObjectives:      4,
		MinBloomLevels:     3,
		QACount:            15,
		Distribution:       DefaultDistribution(),
		MinQAQuality:       0.6,
		DuplicateThreshold: 0.85,
		Retry:              retry.DefaultPolicy(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.MaxMaterialChars <= 0 {
		o.MaxMaterialChars = d.MaxMaterialChars
	}
	if o.SummaryMinWords <= 0 {
		o.SummaryMinWords = d.SummaryMinWords
	}
	if o.SummaryMaxWords < o.SummaryMinWords {
		o.SummaryMaxWords = max(d.SummaryMaxWords, o.SummaryMinWords)
	}
	if o.MinConcepts <= 0 {
		o.MinConcepts = d.MinConcepts
	}
	if o.MinObjectives <= 0 {
		o.MinObjectives = d.MinObjectives
	}
	if o.MinBloomLevels <= 0 {
		o.MinBloomLevels = d.MinBloomLevels
	}
	if o.QACount <= 0 {
		o.QACount = d.QACount
	}
	if o.Distribution.Total() == 0 {
		o.Distribution = d.Distribution
	}
	if o.DuplicateThreshold <= 0 {
		o.DuplicateThreshold = d.DuplicateThreshold
	}
	return o
}

// Validate checks thresholds are within [0, 1].
func (o Options) Validate() error {
	if o.MinQAQuality < 0 || o.MinQAQuality > 1 {
		return fmt.Errorf("min_qa_quality must be in [0, 1], got %v", o.MinQAQuality)
	}
	if o.DuplicateThreshold < 0 || o.DuplicateThreshold > 1 {
		return fmt.Errorf("duplicate_threshold must be in [0, 1], got %v", o.DuplicateThreshold)
	}
	return nil
}
