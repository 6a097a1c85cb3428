// Package retrieval answers learner queries with a hybrid pipeline: topic
// classification, a QA fast path, vector search over chunks, weighted
// fusion with knowledge base and QA evidence, and a quality gate.
package retrieval

import (
	"fmt"
	"math"
	"time"
)

// Weights are the fusion weights per source kind. They must sum to 1.
type Weights struct {
	Chunk float64 `yaml:"chunk" json:"chunk"`
	KB    float64 `yaml:"kb" json:"kb"`
	QA    float64 `yaml:"qa" json:"qa"`
}

// DefaultWeights returns 0.40 chunk, 0.30 knowledge base, 0.30 QA.
func DefaultWeights() Weights {
	return Weights{Chunk: 0.40, KB: 0.30, QA: 0.30}
}

// Validate checks that the weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	if w.Chunk < 0 || w.KB < 0 || w.QA < 0 {
		return fmt.Errorf("fusion weights must be non-negative: %+v", w)
	}
	if sum := w.Chunk + w.KB + w.QA; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("fusion weights must sum to 1, got %.4f", sum)
	}
	return nil
}

// Options configures the retriever.
type Options struct {
	TopK                  int
	MaxTopics             int
	MinClassifyConfidence float64
	// FastPathThreshold is the QA question similarity at or above which the
	// stored answer is returned directly.
	FastPathThreshold float64
	// AuxQAThreshold and MaxAuxQA bound the QA pairs used as extra evidence.
	AuxQAThreshold  float64
	MaxAuxQA        int
	Weights         Weights
	AcceptThreshold float64
	AutoFallback    bool
	CacheSize       int
	CacheTTL        time.Duration
	OutOfScope      string
}

// DefaultOptions returns the production retrieval parameters.
func DefaultOptions() Options {
	return Options{
		TopK:                  8,
		MaxTopics:             3,
		MinClassifyConfidence: 0.35,
		FastPathThreshold:     0.90,
		AuxQAThreshold:        0.5,
		MaxAuxQA:              2,
		Weights:               DefaultWeights(),
		AcceptThreshold:       0.25,
		AutoFallback:          true,
		CacheSize:             512,
		CacheTTL:              time.Hour,
		OutOfScope:            "This question is outside the material of this session.",
	}
}

// Validate checks thresholds and weights.
func (o Options) Validate() error {
	if err := o.Weights.Validate(); err != nil {
		return err
	}
	for name, v := range map[string]float64{
		"min_classify_confidence": o.MinClassifyConfidence,
		"fast_path_threshold":     o.FastPathThreshold,
		"aux_qa_threshold":        o.AuxQAThreshold,
		"accept_threshold":        o.AcceptThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
		}
	}
	if o.TopK < 0 {
		return fmt.Errorf("top_k must not be negative, got %d", o.TopK)
	}
	return nil
}

// withDefaults fills unset fields. A zero Options is DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o == (Options{}) {
		return d
	}
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.MaxTopics <= 0 {
		o.MaxTopics = d.MaxTopics
	}
	if o.MaxAuxQA < 0 {
		o.MaxAuxQA = 0
	}
	if o.Weights == (Weights{}) {
		o.Weights = d.Weights
	}
	if o.CacheSize <= 0 {
		o.CacheSize = d.CacheSize
	}
	if o.OutOfScope == "" {
		o.OutOfScope = d.OutOfScope
	}
	return o
}
