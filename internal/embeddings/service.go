// Package embeddings generates vector embeddings for chunk text: an OpenAI
// provider backed by a rate limiter, an LRU+disk cache, and circuit
// breaker/retry protection, plus a recognized-but-unimplemented Voyage AI
// provider.
package embeddings

import "context"

// Service is the provider-agnostic embedding contract the reconciler and
// chunking coordinator consume.
type Service interface {
	// Generate creates an embedding for a single text.
	Generate(ctx context.Context, text string) ([]float64, error)
	// GenerateBatch creates embeddings for multiple texts in one call. The
	// OpenAI provider sends every cache miss in a single upstream request
	// and does not split large batches.
	GenerateBatch(ctx context.Context, texts []string) ([][]float64, error)
	// Dimensions returns the vector length this provider produces.
	Dimensions() int
	// Model returns the active model name.
	Model() string
	// HealthCheck verifies the provider is reachable and authorized.
	HealthCheck(ctx context.Context) error
}
