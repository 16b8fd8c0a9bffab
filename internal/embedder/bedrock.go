package embedder

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/oriys/embedstar/internal/embederr"
)

// bedrockInvoker is the slice of the Bedrock runtime client we call,
// narrowed so tests can stub it.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Bedrock calls AWS Bedrock runtime models with Titan-style embedding
// bodies. Authentication is SigV4 via the SDK's default credential chain.
type Bedrock struct {
	client bedrockInvoker
	model  string
}

// NewBedrock loads AWS configuration for the region and builds the
// provider.
func NewBedrock(ctx context.Context, region, model string) (*Bedrock, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, embederr.Wrap(embederr.Config, fmt.Errorf("load aws config: %w", err))
	}
	return &Bedrock{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  model,
	}, nil
}

func (b *Bedrock) Name() string      { return "bedrock" }
func (b *Bedrock) ModelName() string { return b.model }

type bedrockRequest struct {
	InputText string `json:"inputText"`
}

type bedrockResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (b *Bedrock) Generate(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(bedrockRequest{InputText: text})
	if err != nil {
		return nil, embederr.Wrap(embederr.Internal, fmt.Errorf("encode request: %w", err))
	}

	contentType := "application/json"
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &b.model,
		ContentType: &contentType,
		Accept:      &contentType,
		Body:        body,
	})
	if err != nil {
		return nil, embederr.Wrap(embederr.Transport, fmt.Errorf("bedrock invoke: %w", err))
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, embederr.Wrap(embederr.Provider, fmt.Errorf("bedrock decode response: %w", err))
	}
	if len(resp.Embedding) == 0 {
		return nil, embederr.New(embederr.Provider, "bedrock response contained no embedding")
	}
	return resp.Embedding, nil
}
