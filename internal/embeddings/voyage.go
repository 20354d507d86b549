package embeddings

import (
	"context"

	"github.com/rlefko/codeindex/internal/apperrors"
)

// voyageService is a recognized-but-unimplemented provider: selecting
// "voyage" in config is accepted (it is a known embedding_provider value),
// but every call fails with a clear, non-recoverable CONFIG_INVALID error
// rather than silently falling back to another provider.
type voyageService struct {
	model string
}

func newVoyageService(model string) Service {
	return &voyageService{model: model}
}

func (v *voyageService) unimplemented() error {
	return apperrors.New(apperrors.CodeConfigInvalid, "", "embeddings: voyage provider has no bundled client implementation", nil)
}

func (v *voyageService) Generate(context.Context, string) ([]float64, error) {
	return nil, v.unimplemented()
}

func (v *voyageService) GenerateBatch(context.Context, []string) ([][]float64, error) {
	return nil, v.unimplemented()
}

func (v *voyageService) Dimensions() int { return 0 }

func (v *voyageService) Model() string { return v.model }

func (v *voyageService) HealthCheck(context.Context) error {
	return v.unimplemented()
}
