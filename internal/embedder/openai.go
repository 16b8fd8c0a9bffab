package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/oriys/embedstar/internal/embederr"
)

const openAIEndpoint = "https://api.openai.com/v1/embeddings"

// cloudRequest is the embeddings envelope shared by the OpenAI-compatible
// cloud providers.
type cloudRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type cloudResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// OpenAI is the bearer-token cloud provider.
type OpenAI struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewOpenAI builds the OpenAI provider.
func NewOpenAI(apiKey, model string) *OpenAI {
	return &OpenAI{
		endpoint: openAIEndpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{},
	}
}

func (o *OpenAI) Name() string      { return "openai" }
func (o *OpenAI) ModelName() string { return o.model }

func (o *OpenAI) Generate(ctx context.Context, text string) ([]float32, error) {
	return cloudGenerate(ctx, o.client, o.Name(), o.endpoint, o.apiKey, cloudRequest{
		Model: o.model,
		Input: text,
	})
}

// cloudGenerate performs one OpenAI-shaped embeddings call and extracts the
// first vector from data[0].embedding.
func cloudGenerate(ctx context.Context, client *http.Client, provider, endpoint, apiKey string, payload cloudRequest) ([]float32, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, embederr.Wrap(embederr.Internal, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, embederr.Wrap(embederr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(provider, err, 0, "")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, embederr.Wrap(embederr.Transport, fmt.Errorf("%s read response: %w", provider, err))
	}
	if cerr := classifyHTTPError(provider, nil, resp.StatusCode, string(respBody)); cerr != nil {
		return nil, cerr
	}

	var out cloudResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, embederr.Wrap(embederr.Provider, fmt.Errorf("%s decode response: %w", provider, err))
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, embederr.New(embederr.Provider, "%s response contained no embeddings", provider)
	}
	return out.Data[0].Embedding, nil
}
