package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testAPIKey = "test-key"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "default", cfg.Collection)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.OpenAI.EmbeddingModel)
	assert.Equal(t, 30, cfg.Embedding.OpenAI.RequestTimeout)
	assert.Equal(t, 60, cfg.Embedding.OpenAI.RateLimitRPM)
	assert.Equal(t, "voyage-3-lite", cfg.Embedding.Voyage.Model)

	assert.Equal(t, "http://localhost:6333", cfg.Qdrant.URL)

	assert.Equal(t, 25, cfg.Chunking.InitialBatchSize)
	assert.Equal(t, 100, cfg.Chunking.MaxBatchSize)
	assert.Equal(t, 2, cfg.Chunking.MinBatchSize)
	assert.Equal(t, 500, cfg.Chunking.RelationBatchTarget)

	assert.False(t, cfg.Indexer.IncludeTests)
	assert.True(t, cfg.Indexer.IncludeMarkdown)
	assert.Equal(t, int64(1024*1024), cfg.Indexer.MaxFileSize)
	assert.True(t, cfg.Indexer.UseParallelProcessing)

	assert.Equal(t, 2.0, cfg.Watcher.DebounceSeconds)
	assert.Equal(t, 300.0, cfg.Watcher.TrimAfterSeconds)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.Embedding.OpenAI.APIKey = testAPIKey
				return cfg
			},
			wantErr: false,
		},
		{
			name: "unrecognized embedding provider",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.Embedding.OpenAI.APIKey = testAPIKey
				cfg.Embedding.Provider = "cohere"
				return cfg
			},
			wantErr: true,
			errMsg:  "unrecognized embedding_provider",
		},
		{
			name: "voyage recognized but unimplemented",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.Embedding.Provider = "voyage"
				cfg.Embedding.Voyage.APIKey = testAPIKey
				return cfg
			},
			wantErr: true,
			errMsg:  "no bundled implementation",
		},
		{
			name: "missing openai api key",
			config: func() *Config {
				cfg := DefaultConfig()
				return cfg
			},
			wantErr: true,
			errMsg:  "openai_api_key is required",
		},
		{
			name: "empty qdrant url",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.Embedding.OpenAI.APIKey = testAPIKey
				cfg.Qdrant.URL = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "qdrant_url is required",
		},
		{
			name: "batch size below initial",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.Embedding.OpenAI.APIKey = testAPIKey
				cfg.Chunking.MaxBatchSize = 10
				cfg.Chunking.InitialBatchSize = 25
				return cfg
			},
			wantErr: true,
			errMsg:  "batch_size must be >= initial_batch_size",
		},
		{
			name: "min batch size below one",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.Embedding.OpenAI.APIKey = testAPIKey
				cfg.Chunking.MinBatchSize = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "min_batch_size must be >= 1",
		},
		{
			name: "zero debounce",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.Embedding.OpenAI.APIKey = testAPIKey
				cfg.Watcher.DebounceSeconds = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "debounce_seconds must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
