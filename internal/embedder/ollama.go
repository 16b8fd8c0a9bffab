package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/oriys/embedstar/internal/embederr"
)

// Ollama is the local HTTP provider. No authentication; the daemon runs on
// the same host or network.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama points at a local Ollama daemon.
func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

func (o *Ollama) Name() string      { return "ollama" }
func (o *Ollama) ModelName() string { return o.model }

type ollamaRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Generate posts the text and extracts the first embedding from the
// response envelope.
func (o *Ollama) Generate(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, embederr.Wrap(embederr.Internal, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, embederr.Wrap(embederr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(o.Name(), err, 0, "")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, embederr.Wrap(embederr.Transport, fmt.Errorf("read response: %w", err))
	}
	if cerr := classifyHTTPError(o.Name(), nil, resp.StatusCode, string(respBody)); cerr != nil {
		return nil, cerr
	}

	var out ollamaResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, embederr.Wrap(embederr.Provider, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, embederr.New(embederr.Provider, "ollama returned no embeddings")
	}
	return out.Embeddings[0], nil
}
