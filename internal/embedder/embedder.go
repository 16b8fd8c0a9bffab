// Package embedder turns record text into vectors via one configured
// provider, wrapping the call with truncation, an inner retry loop and an
// optional validation hook.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/oriys/embedstar/internal/config"
	"github.com/oriys/embedstar/internal/embederr"
	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
	"github.com/oriys/embedstar/internal/retry"
	"github.com/oriys/embedstar/internal/validation"
)

// requestTimeout bounds one provider round trip.
const requestTimeout = 30 * time.Second

// Provider is one embedding backend.
type Provider interface {
	// Generate maps text to a vector, or fails with a classified error.
	Generate(ctx context.Context, text string) ([]float32, error)
	// ModelName is the model identifier written alongside vectors.
	ModelName() string
	// Name is the provider label used for metrics and the circuit breaker.
	Name() string
}

// Embedder composes a provider with truncation, retries and validation.
type Embedder struct {
	provider   Provider
	tokenLimit int
	retryCfg   retry.Config
	validator  *validation.Validator
}

// Option tweaks an Embedder.
type Option func(*Embedder)

// WithValidator installs the post-generation validation hook.
func WithValidator(v *validation.Validator) Option {
	return func(e *Embedder) { e.validator = v }
}

// WithRetry overrides the inner retry schedule.
func WithRetry(cfg retry.Config) Option {
	return func(e *Embedder) { e.retryCfg = cfg }
}

// New selects the provider from configuration and wraps it.
func New(cfg *config.Config, opts ...Option) (*Embedder, error) {
	var p Provider
	switch cfg.EmbeddingProvider {
	case config.ProviderOllama:
		p = NewOllama(cfg.OllamaURL, cfg.EmbeddingModel)
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, embederr.New(embederr.Config, "openai provider selected without OPENAI_API_KEY")
		}
		p = NewOpenAI(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	case config.ProviderTogether, "togetherai":
		if cfg.TogetherAPIKey == "" {
			return nil, embederr.New(embederr.Config, "together provider selected without TOGETHER_API_KEY")
		}
		p = NewTogether(cfg.TogetherAPIKey, cfg.EmbeddingModel)
	case config.ProviderBedrock:
		bp, err := NewBedrock(context.Background(), cfg.BedrockRegion, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		p = bp
	default:
		return nil, embederr.New(embederr.Config, "unknown embedding provider %q", cfg.EmbeddingProvider)
	}

	e := &Embedder{
		provider:   p,
		tokenLimit: cfg.TokenLimit,
		retryCfg: retry.Config{
			MaxRetries:      cfg.RetryAttempts,
			InitialInterval: time.Duration(cfg.RetryDelayMS) * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Multiplier:      2.0,
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	logging.Op().Info("embedder ready",
		"provider", p.Name(), "model", p.ModelName(), "token_limit", e.tokenLimit)
	return e, nil
}

// NewWithProvider wraps an explicit provider, mainly for tests.
func NewWithProvider(p Provider, tokenLimit int, opts ...Option) *Embedder {
	e := &Embedder{
		provider:   p,
		tokenLimit: tokenLimit,
		retryCfg:   retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ModelName reports the wrapped provider's model.
func (e *Embedder) ModelName() string { return e.provider.ModelName() }

// ProviderName reports the wrapped provider's label.
func (e *Embedder) ProviderName() string { return e.provider.Name() }

// Truncate caps text at limit characters, replacing the tail with a
// three-character ellipsis when anything was cut.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// Generate produces a vector for text. Transient provider failures and
// validation rejections are retried inside this loop; the returned vector
// has passed validation when a validator is installed.
func (e *Embedder) Generate(ctx context.Context, text, recordName string) ([]float32, error) {
	truncated := Truncate(text, e.tokenLimit)
	if len(truncated) < len(text) {
		logging.Op().Debug("truncated embedding text",
			"context", recordName, "from", len(text), "to", len(truncated))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryCfg.InitialInterval
	b.MaxInterval = e.retryCfg.MaxInterval
	b.Multiplier = e.retryCfg.Multiplier

	start := time.Now()
	op := func() ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		vec, err := e.provider.Generate(callCtx, truncated)
		cancel()

		if err != nil {
			metrics.RecordProviderRequest(e.provider.Name(), false)
			if !embederr.IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		metrics.RecordProviderRequest(e.provider.Name(), true)

		if e.validator != nil {
			if verr := e.validator.Validate(vec, recordName); verr != nil {
				metrics.RecordEmbeddingValidation(e.ModelName(), false)
				// Retryable inside this loop only: a fresh generation may
				// well produce an acceptable vector.
				return nil, verr
			}
			metrics.RecordEmbeddingValidation(e.ModelName(), true)
		}
		return vec, nil
	}

	notify := func(err error, next time.Duration) {
		metrics.RecordRetry("embedder_generate")
		logging.Op().Warn("embedding attempt failed, retrying",
			"provider", e.provider.Name(), "context", recordName, "next_in", next, "error", err)
	}

	vec, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.retryCfg.MaxRetries+1)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		metrics.RecordEmbeddingError(e.provider.Name(), embederr.KindOf(err).Code())
		return nil, fmt.Errorf("generate embedding for %s: %w", recordName, err)
	}

	metrics.RecordEmbeddingGenerated(e.provider.Name(), e.ModelName(), time.Since(start).Seconds())
	return vec, nil
}

// classifyHTTPError folds a provider response into the error taxonomy:
// transport trouble is Transport, non-2xx statuses are Provider failures.
func classifyHTTPError(provider string, err error, status int, body string) error {
	if err != nil {
		return embederr.Wrap(embederr.Transport, fmt.Errorf("%s request: %w", provider, err))
	}
	if status < 200 || status >= 300 {
		return embederr.New(embederr.Provider, "%s returned status %d: %s", provider, status, body)
	}
	return nil
}
