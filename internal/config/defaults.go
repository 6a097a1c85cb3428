package config

import (
	"github.com/hyperjump/bilgi/internal/chunking"
	"github.com/hyperjump/bilgi/internal/knowledge"
	"github.com/hyperjump/bilgi/internal/refine"
	"github.com/hyperjump/bilgi/internal/retrieval"
	"github.com/hyperjump/bilgi/internal/retry"
	"github.com/hyperjump/bilgi/internal/topics"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/bilgi/data/db/bilgi.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/bilgi/data/indices/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/bilgi/data/indices/vectors.gob"
	}

	applyEmbeddingDefaults(&cfg.Embedding)
	applyLLMDefaults(&cfg.LLM)
	applyChunkingDefaults(&cfg.Chunking)
	applyRefineDefaults(&cfg.Refine)
	applyTopicsDefaults(&cfg.Topics)
	applyKnowledgeDefaults(&cfg.Knowledge)
	applyRetrievalDefaults(&cfg.Retrieval)

	if cfg.Similarity.Strategy == "" {
		cfg.Similarity.Strategy = "jaccard"
	}
	if cfg.Vector.Type == "" {
		cfg.Vector.Type = "memory"
	}
	if cfg.Graph.Database == "" {
		cfg.Graph.Database = "neo4j"
	}
	if cfg.Graph.User == "" {
		cfg.Graph.User = "neo4j"
	}
}

func applyEmbeddingDefaults(e *EmbeddingConfig) {
	if e.Provider == "" {
		e.Provider = "openai"
	}
	if e.Model == "" {
		e.Model = "text-embedding-3-small"
	}
	if e.Dimensions == 0 {
		e.Dimensions = 1536
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 8191
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}
}

func applyLLMDefaults(l *LLMConfig) {
	if l.Provider == "" {
		l.Provider = "ollama"
	}
	if l.Model == "" {
		l.Model = "llama3.1"
	}
	if l.Temperature == 0 {
		l.Temperature = 0.2
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = 4096
	}
	if l.OllamaHost == "" {
		l.OllamaHost = "http://localhost:11434"
	}
	d := retry.DefaultPolicy()
	if l.Retry.MaxAttempts == 0 {
		l.Retry.MaxAttempts = d.MaxAttempts
	}
	if l.Retry.BaseDelay == 0 {
		l.Retry.BaseDelay = d.BaseDelay
	}
	if l.Retry.BackoffFactor == 0 {
		l.Retry.BackoffFactor = d.BackoffFactor
	}
	if l.Retry.MaxDelay == 0 {
		l.Retry.MaxDelay = d.MaxDelay
	}
}

func applyChunkingDefaults(c *ChunkingConfig) {
	d := chunking.DefaultOptions()
	if c.TargetMin == 0 {
		c.TargetMin = d.TargetMin
	}
	if c.TargetMax == 0 {
		c.TargetMax = d.TargetMax
	}
	if c.HardMax == 0 {
		c.HardMax = d.HardMax
	}
	if c.OverlapChars == 0 {
		c.OverlapChars = d.OverlapChars
	}
	if c.MinChars == 0 {
		c.MinChars = d.MinChars
	}
	if c.MinQuality == 0 {
		c.MinQuality = d.MinQuality
	}
	if c.ParagraphGap == 0 {
		c.ParagraphGap = d.ParagraphGap
	}
}

func applyRefineDefaults(r *RefineConfig) {
	d := refine.DefaultOptions()
	if r.Workers == 0 {
		r.Workers = d.Workers
	}
	if r.BatchSize == 0 {
		r.BatchSize = d.BatchSize
	}
	if r.LengthTolerance == 0 {
		r.LengthTolerance = d.LengthTolerance
	}
}

func applyTopicsDefaults(t *TopicsConfig) {
	d := topics.DefaultOptions()
	if t.MaxBatchChars == 0 {
		t.MaxBatchChars = d.MaxBatchChars
	}
	if t.MergeThreshold == 0 {
		t.MergeThreshold = d.MergeThreshold
	}
	if t.Workers == 0 {
		t.Workers = d.Workers
	}
}

func applyKnowledgeDefaults(k *KnowledgeConfig) {
	d := knowledge.DefaultOptions()
	if k.Workers == 0 {
		k.Workers = d.Workers
	}
	if k.MaxMaterialChars == 0 {
		k.MaxMaterialChars = d.MaxMaterialChars
	}
	if k.SummaryMinWords == 0 {
		k.SummaryMinWords = d.SummaryMinWords
	}
	if k.SummaryMaxWords == 0 {
		k.SummaryMaxWords = d.SummaryMaxWords
	}
	if k.MinConcepts == 0 {
		k.MinConcepts = d.MinConcepts
	}
	if k.MinObjectives == 0 {
		k.MinObjectives = d.MinObjectives
	}
	if k.MinBloomLevels == 0 {
		k.MinBloomLevels = d.MinBloomLevels
	}
	if k.QACount == 0 {
		k.QACount = d.QACount
	}
	if k.Distribution.Total() == 0 {
		k.Distribution = d.Distribution
	}
	if k.MinQAQuality == 0 {
		k.MinQAQuality = d.MinQAQuality
	}
	if k.DuplicateThreshold == 0 {
		k.DuplicateThreshold = d.DuplicateThreshold
	}
}

func applyRetrievalDefaults(r *RetrievalConfig) {
	d := retrieval.DefaultOptions()
	if r.TopK == 0 {
		r.TopK = d.TopK
	}
	if r.MaxTopics == 0 {
		r.MaxTopics = d.MaxTopics
	}
	if r.MinClassifyConfidence == 0 {
		r.MinClassifyConfidence = d.MinClassifyConfidence
	}
	if r.FastPathThreshold == 0 {
		r.FastPathThreshold = d.FastPathThreshold
	}
	if r.AuxQAThreshold == 0 {
		r.AuxQAThreshold = d.AuxQAThreshold
	}
	if r.MaxAuxQA == 0 {
		r.MaxAuxQA = d.MaxAuxQA
	}
	if r.Weights == (retrieval.Weights{}) {
		r.Weights = d.Weights
	}
	if r.AcceptThreshold == 0 {
		r.AcceptThreshold = d.AcceptThreshold
	}
	if r.Classifier == "" {
		r.Classifier = "embedding"
	}
	if r.CacheSize == 0 {
		r.CacheSize = d.CacheSize
	}
	if r.CacheTTL == 0 {
		r.CacheTTL = d.CacheTTL
	}
	if r.OutOfScope == "" {
		r.OutOfScope = d.OutOfScope
	}
}
