package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/bilgi/internal/knowledge"
	"github.com/hyperjump/bilgi/internal/retrieval"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
llm:
  provider: openai
  model: gpt-4o-mini
  timeout: 45s
  retry:
    max_attempts: 5
    base_delay: 250ms
retrieval:
  top_k: 12
  weights:
    chunk: 0.5
    kb: 0.25
    qa: 0.25
knowledge:
  distribution:
    beginner: 2
    intermediate: 2
    advanced: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("llm timeout: got %v", cfg.LLM.Timeout)
	}
	if cfg.LLM.Retry.MaxAttempts != 5 || cfg.LLM.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("llm retry: got %+v", cfg.LLM.Retry)
	}
	if cfg.LLM.Retry.BackoffFactor != 2.0 {
		t.Errorf("retry backoff should default to 2.0, got %v", cfg.LLM.Retry.BackoffFactor)
	}
	ro := cfg.RetrievalOptions()
	if ro.TopK != 12 || ro.Weights != (retrieval.Weights{Chunk: 0.5, KB: 0.25, QA: 0.25}) {
		t.Errorf("retrieval options: got top_k=%d weights=%+v", ro.TopK, ro.Weights)
	}
	if !ro.AutoFallback {
		t.Error("auto_fallback should default to true")
	}
	ko := cfg.KnowledgeOptions()
	if ko.Distribution != (knowledge.Distribution{Beginner: 2, Intermediate: 2, Advanced: 1}) {
		t.Errorf("distribution: got %+v", ko.Distribution)
	}
	if ko.Retry.MaxAttempts != 5 {
		t.Errorf("knowledge retry should follow llm.retry, got %+v", ko.Retry)
	}
}

func TestLoad_debugTrue(t *testing.T) {
	path := writeConfig(t, `
debug: true
storage:
  database_path: "test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/bilgi.db"
  vector_index_path: "./data/indices/vectors.gob"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	wantDB := filepath.Join(dir, "data", "db", "bilgi.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	wantVec := filepath.Join(dir, "data", "indices", "vectors.gob")
	if cfg.Storage.VectorIndexPath != wantVec {
		t.Errorf("vector_index_path = %s, want %s", cfg.Storage.VectorIndexPath, wantVec)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "weights do not sum to one",
			content: `
retrieval:
  weights: {chunk: 0.5, kb: 0.5, qa: 0.5}
`,
			wantErr: "sum to 1",
		},
		{
			name: "chunk sizes out of order",
			content: `
chunking:
  target_min: 800
  target_max: 400
`,
			wantErr: "target_max",
		},
		{
			name: "unknown similarity",
			content: `
similarity:
  strategy: levenshtein
`,
			wantErr: "unknown strategy",
		},
		{
			name: "unknown classifier",
			content: `
retrieval:
  classifier: bayes
`,
			wantErr: "unknown classifier",
		},
		{
			name: "graph without uri",
			content: `
graph:
  enabled: true
`,
			wantErr: "without uri",
		},
		{
			name:    "malformed yaml",
			content: "server: [",
			wantErr: "failed to parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "sk-test")
	t.Setenv(EnvNeo4jPassword, "gizli")
	t.Setenv(EnvPostgresDSN, "postgres://localhost/bilgi")
	cfg := &Config{}
	ApplyEnv(cfg)
	if cfg.Embedding.OpenAIAPIKey != "sk-test" || cfg.LLM.OpenAIAPIKey != "sk-test" {
		t.Errorf("openai key not applied: %+v %+v", cfg.Embedding, cfg.LLM)
	}
	if cfg.Graph.Password != "gizli" {
		t.Errorf("neo4j password: got %q", cfg.Graph.Password)
	}
	if cfg.Vector.PostgresDSN != "postgres://localhost/bilgi" {
		t.Errorf("postgres dsn: got %q", cfg.Vector.PostgresDSN)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Chunking.TargetMin != 200 || cfg.Chunking.TargetMax != 600 || cfg.Chunking.HardMax != 1000 {
		t.Errorf("default chunk sizes: got %+v", cfg.Chunking)
	}
	if cfg.Retrieval.Weights != retrieval.DefaultWeights() {
		t.Errorf("default weights: got %+v", cfg.Retrieval.Weights)
	}
	if cfg.Retrieval.Classifier != "embedding" || cfg.Similarity.Strategy != "jaccard" {
		t.Errorf("default classifier/similarity: got %q/%q", cfg.Retrieval.Classifier, cfg.Similarity.Strategy)
	}
	if cfg.Knowledge.Distribution != knowledge.DefaultDistribution() {
		t.Errorf("default distribution: got %+v", cfg.Knowledge.Distribution)
	}
	if cfg.Vector.Type != "memory" {
		t.Errorf("default vector type: got %q", cfg.Vector.Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestRetrievalConfig_AutoFallbackOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		r := &RetrievalConfig{}
		if !r.AutoFallbackOrDefault() {
			t.Error("AutoFallbackOrDefault() = false, want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		r := &RetrievalConfig{AutoFallback: &f}
		if r.AutoFallbackOrDefault() {
			t.Error("AutoFallbackOrDefault() = true, want false")
		}
	})
}

func TestRefineOptionsFollowChunking(t *testing.T) {
	cfg := &Config{}
	cfg.Chunking.HardMax = 1500
	ApplyDefaults(cfg)
	if got := cfg.RefineOptions().HardMax; got != 1500 {
		t.Errorf("refine hard max = %d, want 1500", got)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	cfg.Embedding.OpenAIAPIKey = "sk-secret"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Error("api key must not be written")
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
