// Package config implements the hierarchical configuration loader: nested
// config structs mirroring each subsystem, a DefaultConfig factory, and a
// Loader that merges seven precedence tiers into one resolved Config.
package config

import "fmt"

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey         string `json:"openai_api_key" yaml:"openai_api_key"`
	EmbeddingModel string `json:"embedding_model" yaml:"embedding_model"`
	RequestTimeout int    `json:"request_timeout" yaml:"request_timeout"` // seconds
	RateLimitRPM   int    `json:"rate_limit_rpm" yaml:"rate_limit_rpm"`
}

// VoyageConfig configures the Voyage AI embedding provider. No SDK for it
// ships in this module (see SPEC_FULL.md §4.5A); selecting it at runtime is
// a recognized but unimplemented provider.
type VoyageConfig struct {
	APIKey string `json:"voyage_api_key" yaml:"voyage_api_key"`
	Model  string `json:"voyage_model" yaml:"voyage_model"`
}

// EmbeddingConfig selects and configures the active embedding provider.
type EmbeddingConfig struct {
	Provider string       `json:"embedding_provider" yaml:"embedding_provider"` // "openai" | "voyage"
	OpenAI   OpenAIConfig `json:"openai" yaml:"openai"`
	Voyage   VoyageConfig `json:"voyage" yaml:"voyage"`
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	URL    string `json:"qdrant_url" yaml:"qdrant_url"`
	APIKey string `json:"qdrant_api_key" yaml:"qdrant_api_key"`
}

// ChunkingConfig controls batching and the adaptive batch-size ramp.
type ChunkingConfig struct {
	InitialBatchSize    int `json:"initial_batch_size" yaml:"initial_batch_size"`
	MaxBatchSize        int `json:"batch_size" yaml:"batch_size"`
	MinBatchSize        int `json:"min_batch_size" yaml:"min_batch_size"`
	RelationBatchTarget int `json:"relation_batch_target" yaml:"relation_batch_target"`
}

// IndexerConfig controls file selection and pipeline behavior.
type IndexerConfig struct {
	IncludeTests          bool     `json:"include_tests" yaml:"include_tests"`
	IncludeMarkdown       bool     `json:"include_markdown" yaml:"include_markdown"`
	MaxFileSize           int64    `json:"max_file_size" yaml:"max_file_size"`
	IncludePatterns       []string `json:"include_patterns" yaml:"include_patterns"`
	ExcludePatterns       []string `json:"exclude_patterns" yaml:"exclude_patterns"`
	UseParallelProcessing bool     `json:"use_parallel_processing" yaml:"use_parallel_processing"`
	MaxParallelWorkers    int      `json:"max_concurrent_files" yaml:"max_concurrent_files"`
	MemorySoftCapMB       int      `json:"memory_soft_cap_mb" yaml:"memory_soft_cap_mb"`
	StateDir              string   `json:"state_dir" yaml:"state_dir"`
}

// WatcherConfig controls the debounced filesystem watcher.
type WatcherConfig struct {
	DebounceSeconds  float64 `json:"debounce_seconds" yaml:"debounce_seconds"`
	TrimAfterSeconds float64 `json:"trim_after_seconds" yaml:"trim_after_seconds"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

// Config is the fully-resolved configuration for one indexing run or
// long-lived service instance.
type Config struct {
	Collection string `json:"collection" yaml:"collection"`
	Debug      bool   `json:"debug" yaml:"debug"`
	Verbose    bool   `json:"verbose" yaml:"verbose"`

	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Qdrant    QdrantConfig    `json:"qdrant" yaml:"qdrant"`
	Chunking  ChunkingConfig  `json:"chunking" yaml:"chunking"`
	Indexer   IndexerConfig   `json:"indexer" yaml:"indexer"`
	Watcher   WatcherConfig   `json:"watcher" yaml:"watcher"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`

	// ConfigMigrated records whether a legacy .claude-indexer/config.json
	// has been copied into .claude/settings.json by `codeindex
	// migrate-config`; until it has, the two locations are never merged.
	ConfigMigrated bool `json:"config_migrated" yaml:"config_migrated"`
}

// DefaultConfig returns built-in defaults: the lowest-precedence tier.
func DefaultConfig() *Config {
	return &Config{
		Collection: "default",
		Embedding: EmbeddingConfig{
			Provider: "openai",
			OpenAI: OpenAIConfig{
				EmbeddingModel: "text-embedding-3-small",
				RequestTimeout: 30,
				RateLimitRPM:   60,
			},
			Voyage: VoyageConfig{Model: "voyage-3-lite"},
		},
		Qdrant: QdrantConfig{URL: "http://localhost:6333"},
		Chunking: ChunkingConfig{
			InitialBatchSize:    25,
			MaxBatchSize:        100,
			MinBatchSize:        2,
			RelationBatchTarget: 500,
		},
		Indexer: IndexerConfig{
			IncludeTests:          false,
			IncludeMarkdown:       true,
			MaxFileSize:           1024 * 1024,
			UseParallelProcessing: true,
			MaxParallelWorkers:    0, // 0 => min(CPU-1, 16)
			MemorySoftCapMB:       2048,
		},
		Watcher: WatcherConfig{
			DebounceSeconds:  2.0,
			TrimAfterSeconds: 300,
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
	}
}

// Validate checks the resolved config for internal consistency.
func (c *Config) Validate() error {
	if c.Embedding.Provider != "openai" && c.Embedding.Provider != "voyage" {
		return fmt.Errorf("config: unrecognized embedding_provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "voyage" {
		return fmt.Errorf("config: embedding_provider \"voyage\" is recognized but has no bundled implementation")
	}
	if c.Embedding.Provider == "openai" && c.Embedding.OpenAI.APIKey == "" {
		return fmt.Errorf("config: openai_api_key is required when embedding_provider=openai")
	}
	if c.Qdrant.URL == "" {
		return fmt.Errorf("config: qdrant_url is required")
	}
	if c.Chunking.MaxBatchSize < c.Chunking.InitialBatchSize {
		return fmt.Errorf("config: batch_size must be >= initial_batch_size")
	}
	if c.Chunking.MinBatchSize < 1 {
		return fmt.Errorf("config: min_batch_size must be >= 1")
	}
	if c.Watcher.DebounceSeconds <= 0 {
		return fmt.Errorf("config: debounce_seconds must be > 0")
	}
	return nil
}
