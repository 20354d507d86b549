package embeddings

import (
	"fmt"

	"github.com/rlefko/codeindex/internal/config"
)

// New constructs the Service selected by cfg.Provider.
func New(cfg config.EmbeddingConfig, stateDir string) (Service, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIService(cfg.OpenAI, stateDir)
	case "voyage":
		return newVoyageService(cfg.Voyage.Model), nil
	default:
		return nil, fmt.Errorf("embeddings: unrecognized provider %q", cfg.Provider)
	}
}
