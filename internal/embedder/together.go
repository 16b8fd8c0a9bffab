package embedder

import (
	"context"
	"net/http"
)

const togetherEndpoint = "https://api.together.xyz/v1/embeddings"

// Together is the Together AI cloud provider. Same envelope shape as
// OpenAI at a different host.
type Together struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewTogether builds the Together provider.
func NewTogether(apiKey, model string) *Together {
	return &Together{
		endpoint: togetherEndpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{},
	}
}

func (t *Together) Name() string      { return "together" }
func (t *Together) ModelName() string { return t.model }

func (t *Together) Generate(ctx context.Context, text string) ([]float32, error) {
	return cloudGenerate(ctx, t.client, t.Name(), t.endpoint, t.apiKey, cloudRequest{
		Model: t.model,
		Input: text,
	})
}
