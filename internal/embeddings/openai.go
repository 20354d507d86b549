package embeddings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rlefko/codeindex/internal/apperrors"
	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/internal/resilience"
)

// modelDimensions is the known output width of each supported OpenAI
// embedding model.
var modelDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// openAIService implements Service against OpenAI's embeddings API, with a
// warm in-memory+on-disk cache, a per-minute token bucket, and circuit
// breaker + retry protection around every upstream call.
type openAIService struct {
	client *openai.Client
	model  string

	cache       *cache
	cachePath   string
	rateLimiter *rateLimiter
	breaker     *resilience.CircuitBreaker
	retrier     *resilience.Retrier

	requestTimeout time.Duration
	logger         logging.Logger
}

// NewOpenAIService creates an OpenAI-backed Service. stateDir, if non-empty,
// holds the embedding cache file (one file per model, since cache keys do
// not cross models): it is loaded here and written only by Flush.
func NewOpenAIService(cfg config.OpenAIConfig, stateDir string) (Service, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "", "embeddings: openai api key is required", nil)
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	svc := &openAIService{
		client:         openai.NewClient(cfg.APIKey),
		model:          model,
		cache:          newCache(5000, 7*24*time.Hour),
		rateLimiter:    newRateLimiter(cfg.RateLimitRPM),
		breaker:        resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retrier:        resilience.NewRetrier(&resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2, RandomizeFactor: 0.2, RetryIf: resilience.UpstreamErrorRetryable}),
		requestTimeout: timeout,
		logger:         logging.WithComponent("embeddings"),
	}
	if stateDir != "" {
		svc.cachePath = filepath.Join(stateDir, "embedding-cache-"+model+".gob")
		svc.cache.loadFromDisk(svc.cachePath)
	}
	return svc, nil
}

func (s *openAIService) Generate(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, errors.New("embeddings: text cannot be empty")
	}
	results, err := s.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// GenerateBatch resolves cache hits locally and sends only the misses
// upstream in one request, protected by the circuit breaker and retrier.
func (s *openAIService) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, errors.New("embeddings: texts cannot be empty")
	}

	results := make([][]float64, len(texts))
	var missTexts []string
	var missIndices []int

	for i, text := range texts {
		key := cacheKey(s.model, text)
		if cached, ok := s.cache.get(key); ok {
			results[i] = cached
			continue
		}
		missTexts = append(missTexts, text)
		missIndices = append(missIndices, i)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	if err := s.rateLimiter.wait(ctx); err != nil {
		return nil, fmt.Errorf("embeddings: rate limiter: %w", err)
	}

	var resp openai.EmbeddingResponse
	err := s.breaker.ExecuteWithFallback(ctx, func(ctx context.Context) error {
		return s.retrier.Do(ctx, func(ctx context.Context) error {
			timeoutCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
			defer cancel()

			var apiErr error
			resp, apiErr = s.client.CreateEmbeddings(timeoutCtx, openai.EmbeddingRequest{
				Input: missTexts,
				Model: openai.EmbeddingModel(s.model),
			})
			return apiErr
		}).Err
	}, func(ctx context.Context, cbErr error) error {
		return apperrors.New(apperrors.CodeEmbedding, "", "embeddings: openai request failed", cbErr)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(missTexts) {
		return nil, fmt.Errorf("embeddings: expected %d embeddings, got %d", len(missTexts), len(resp.Data))
	}

	for i, datum := range resp.Data {
		vec := make([]float64, len(datum.Embedding))
		for j, v := range datum.Embedding {
			vec[j] = float64(v)
		}
		resultIndex := missIndices[i]
		results[resultIndex] = vec
		s.cache.set(cacheKey(s.model, missTexts[i]), vec)
	}
	return results, nil
}

func (s *openAIService) Dimensions() int {
	if d, ok := modelDimensions[s.model]; ok {
		return d
	}
	return 1536
}

func (s *openAIService) Model() string { return s.model }

func (s *openAIService) HealthCheck(ctx context.Context) error {
	_, err := s.Generate(ctx, "health check")
	return err
}

// Flush persists the current cache contents to disk, if a cache path was
// configured. No code in this module calls it, so an indexing run does not
// write the cache file.
func (s *openAIService) Flush() error {
	if s.cachePath == "" {
		return nil
	}
	return s.cache.saveToDisk(s.cachePath)
}

// CacheStats exposes cache hit-rate for status reporting.
func (s *openAIService) CacheStats() (size int, hits, misses int64, hitRate float64) {
	st := s.cache.Stats()
	return st.Size, st.Hits, st.Misses, st.HitRate
}
