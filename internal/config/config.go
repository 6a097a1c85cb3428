// Package config provides configuration loading and structs for the bilgi server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/bilgi/internal/chunking"
	"github.com/hyperjump/bilgi/internal/embedding"
	"github.com/hyperjump/bilgi/internal/knowledge"
	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/refine"
	"github.com/hyperjump/bilgi/internal/retrieval"
	"github.com/hyperjump/bilgi/internal/retry"
	"github.com/hyperjump/bilgi/internal/topics"
	"github.com/hyperjump/bilgi/internal/vector"
)

// Environment variables that override secrets and connection strings.
const (
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvNeo4jPassword = "BILGI_NEO4J_PASSWORD"
	EnvPostgresDSN   = "BILGI_POSTGRES_DSN"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	LLM        LLMConfig        `yaml:"llm"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Refine     RefineConfig     `yaml:"refine"`
	Topics     TopicsConfig     `yaml:"topics"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Vector     VectorConfig     `yaml:"vector"`
	Graph      GraphConfig      `yaml:"graph"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	Dimensions    int    `yaml:"dimensions"`
	MaxTokens     int    `yaml:"max_tokens"`
	CacheSize     int    `yaml:"cache_size"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIAPIKey  string `yaml:"-"`
}

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	Temperature       float32       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	OllamaHost        string        `yaml:"ollama_host"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
	Retry             retry.Policy  `yaml:"retry"`
	OpenAIAPIKey      string        `yaml:"-"`
}

// ChunkingConfig holds chunk sizing in characters.
type ChunkingConfig struct {
	TargetMin    int     `yaml:"target_min"`
	TargetMax    int     `yaml:"target_max"`
	HardMax      int     `yaml:"hard_max"`
	OverlapChars int     `yaml:"overlap_chars"`
	MinChars     int     `yaml:"min_chars"`
	MinQuality   float64 `yaml:"min_quality"`
	ParagraphGap int     `yaml:"paragraph_gap"`
}

// RefineConfig controls the optional LLM rewrite of chunk bodies.
type RefineConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Workers         int     `yaml:"workers"`
	BatchSize       int     `yaml:"batch_size"`
	LengthTolerance float64 `yaml:"length_tolerance"`
}

// TopicsConfig controls topic extraction.
type TopicsConfig struct {
	MaxBatchChars  int     `yaml:"max_batch_chars"`
	MergeThreshold float64 `yaml:"merge_threshold"`
	Workers        int     `yaml:"workers"`
}

// KnowledgeConfig controls knowledge base and QA generation.
type KnowledgeConfig struct {
	Workers            int                    `yaml:"workers"`
	MaxMaterialChars   int                    `yaml:"max_material_chars"`
	SummaryMinWords    int                    `yaml:"summary_min_words"`
	SummaryMaxWords    int                    `yaml:"summary_max_words"`
	MinConcepts        int                    `yaml:"min_concepts"`
	MinObjectives      int                    `yaml:"min_objectives"`
	MinBloomLevels     int                    `yaml:"min_bloom_levels"`
	QACount            int                    `yaml:"qa_count"`
	Distribution       knowledge.Distribution `yaml:"distribution"`
	MinQAQuality       float64                `yaml:"min_qa_quality"`
	DuplicateThreshold float64                `yaml:"duplicate_threshold"`
}

// RetrievalConfig controls the hybrid retriever.
type RetrievalConfig struct {
	TopK                  int               `yaml:"top_k"`
	MaxTopics             int               `yaml:"max_topics"`
	MinClassifyConfidence float64           `yaml:"min_classify_confidence"`
	FastPathThreshold     float64           `yaml:"fast_path_threshold"`
	AuxQAThreshold        float64           `yaml:"aux_qa_threshold"`
	MaxAuxQA              int               `yaml:"max_aux_qa"`
	Weights               retrieval.Weights `yaml:"weights"`
	AcceptThreshold       float64           `yaml:"accept_threshold"`
	AutoFallback          *bool             `yaml:"auto_fallback"`
	Classifier            string            `yaml:"classifier"`
	CacheSize             int               `yaml:"cache_size"`
	CacheTTL              time.Duration     `yaml:"cache_ttl"`
	OutOfScope            string            `yaml:"out_of_scope"`
}

// AutoFallbackOrDefault returns whether to run the widened second pass; defaults to true when unset.
func (r *RetrievalConfig) AutoFallbackOrDefault() bool {
	if r.AutoFallback != nil {
		return *r.AutoFallback
	}
	return true
}

// SimilarityConfig names the text similarity strategy: "jaccard" or "cosine".
type SimilarityConfig struct {
	Strategy string `yaml:"strategy"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	Type        string `yaml:"type"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// GraphConfig configures the optional Neo4j export of topics and concepts.
type GraphConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Load reads and parses the config file at path, applies defaults and
// environment overrides, expands paths, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to path. Secrets taken from the environment are not written.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides secrets and connection strings from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		cfg.Embedding.OpenAIAPIKey = v
		cfg.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv(EnvNeo4jPassword); v != "" {
		cfg.Graph.Password = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Vector.PostgresDSN = v
	}
}

// Validate checks the component settings that have hard constraints.
func (c *Config) Validate() error {
	if err := c.ChunkingOptions().Validate(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if err := c.KnowledgeOptions().Validate(); err != nil {
		return fmt.Errorf("knowledge: %w", err)
	}
	if err := c.RetrievalOptions().Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if c.Topics.MergeThreshold < 0 || c.Topics.MergeThreshold > 1 {
		return fmt.Errorf("topics: merge_threshold must be in [0, 1], got %v", c.Topics.MergeThreshold)
	}
	switch c.Similarity.Strategy {
	case "jaccard", "cosine":
	default:
		return fmt.Errorf("similarity: unknown strategy %q", c.Similarity.Strategy)
	}
	switch c.Retrieval.Classifier {
	case "embedding", "keyword", "llm", "none":
	default:
		return fmt.Errorf("retrieval: unknown classifier %q", c.Retrieval.Classifier)
	}
	if c.Vector.Type == string(vector.IndexTypePGVector) && c.Vector.PostgresDSN == "" {
		return fmt.Errorf("vector: pgvector requires postgres_dsn or %s", EnvPostgresDSN)
	}
	if c.Graph.Enabled && c.Graph.URI == "" {
		return fmt.Errorf("graph: enabled without uri")
	}
	return nil
}

// EmbeddingOptions returns the embedder options.
func (c *Config) EmbeddingOptions() embedding.Options {
	e := c.Embedding
	return embedding.Options{
		Provider:      e.Provider,
		Model:         e.Model,
		Dimensions:    e.Dimensions,
		MaxTokens:     e.MaxTokens,
		CacheSize:     e.CacheSize,
		OpenAIAPIKey:  e.OpenAIAPIKey,
		OpenAIBaseURL: e.OpenAIBaseURL,
	}
}

// LLMOptions returns the completion client options.
func (c *Config) LLMOptions() llm.Options {
	l := c.LLM
	return llm.Options{
		Provider:          l.Provider,
		Model:             l.Model,
		Temperature:       l.Temperature,
		MaxTokens:         l.MaxTokens,
		OllamaHost:        l.OllamaHost,
		OpenAIAPIKey:      l.OpenAIAPIKey,
		OpenAIBaseURL:     l.OpenAIBaseURL,
		RequestsPerSecond: l.RequestsPerSecond,
		Burst:             l.Burst,
		Timeout:           l.Timeout,
	}
}

// ChunkingOptions returns the chunker options.
func (c *Config) ChunkingOptions() chunking.Options {
	ch := c.Chunking
	return chunking.Options{
		TargetMin:    ch.TargetMin,
		TargetMax:    ch.TargetMax,
		HardMax:      ch.HardMax,
		OverlapChars: ch.OverlapChars,
		MinChars:     ch.MinChars,
		MinQuality:   ch.MinQuality,
		ParagraphGap: ch.ParagraphGap,
	}
}

// RefineOptions returns the refiner options. The hard maximum follows chunking.
func (c *Config) RefineOptions() refine.Options {
	return refine.Options{
		Workers:         c.Refine.Workers,
		BatchSize:       c.Refine.BatchSize,
		LengthTolerance: c.Refine.LengthTolerance,
		HardMax:         c.Chunking.HardMax,
		Retry:           c.LLM.Retry,
	}
}

// TopicsOptions returns the topic extractor options.
func (c *Config) TopicsOptions() topics.Options {
	return topics.Options{
		MaxBatchChars:  c.Topics.MaxBatchChars,
		MergeThreshold: c.Topics.MergeThreshold,
		Workers:        c.Topics.Workers,
		Retry:          c.LLM.Retry,
	}
}

// KnowledgeOptions returns the knowledge extractor options.
func (c *Config) KnowledgeOptions() knowledge.Options {
	k := c.Knowledge
	return knowledge.Options{
		Workers:            k.Workers,
		MaxMaterialChars:   k.MaxMaterialChars,
		SummaryMinWords:    k.SummaryMinWords,
		SummaryMaxWords:    k.SummaryMaxWords,
		MinConcepts:        k.MinConcepts,
		MinObjectives:      k.MinObjectives,
		MinBloomLevels:     k.MinBloomLevels,
		QACount:            k.QACount,
		Distribution:       k.Distribution,
		MinQAQuality:       k.MinQAQuality,
		DuplicateThreshold: k.DuplicateThreshold,
		Retry:              c.LLM.Retry,
	}
}

// RetrievalOptions returns the retriever options.
func (c *Config) RetrievalOptions() retrieval.Options {
	r := c.Retrieval
	return retrieval.Options{
		TopK:                  r.TopK,
		MaxTopics:             r.MaxTopics,
		MinClassifyConfidence: r.MinClassifyConfidence,
		FastPathThreshold:     r.FastPathThreshold,
		AuxQAThreshold:        r.AuxQAThreshold,
		MaxAuxQA:              r.MaxAuxQA,
		Weights:               r.Weights,
		AcceptThreshold:       r.AcceptThreshold,
		AutoFallback:          r.AutoFallbackOrDefault(),
		CacheSize:             r.CacheSize,
		CacheTTL:              r.CacheTTL,
		OutOfScope:            r.OutOfScope,
	}
}

// VectorOptions returns the vector index options sized to the embedder.
func (c *Config) VectorOptions() vector.Options {
	return vector.Options{
		Type:        c.Vector.Type,
		Dimensions:  c.Embedding.Dimensions,
		PostgresDSN: c.Vector.PostgresDSN,
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
