// Package ratelimit admits provider calls through per-provider token
// buckets. Providers without a configured bucket are unlimited.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/oriys/embedstar/internal/embederr"
	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
)

// Limiter holds one token bucket per provider. Buckets share no state;
// contention on a single provider is serialized by its bucket.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
}

// New returns an empty limiter. Call Configure per provider.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter)}
}

// Configure installs or replaces the bucket for a provider. An rpm of 0
// removes any bucket, leaving the provider unlimited. Idempotent.
func (l *Limiter) Configure(provider string, rpm int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rpm <= 0 {
		delete(l.buckets, provider)
		logging.Op().Info("rate limiter disabled", "provider", provider)
		return
	}

	// Burst of one minute's budget, refilled continuously.
	l.buckets[provider] = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	logging.Op().Info("rate limiter configured", "provider", provider, "rpm", rpm)
}

func (l *Limiter) bucket(provider string) *rate.Limiter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buckets[provider]
}

// Wait blocks until a token is available for the provider. Returns
// immediately when the provider has no bucket.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	b := l.bucket(provider)
	if b == nil {
		return nil
	}
	if err := b.Wait(ctx); err != nil {
		return embederr.Wrap(embederr.RateLimited, err)
	}
	return nil
}

// Check takes a token without blocking. A RateLimited error means no token
// is currently available; the bucket is left untouched in that case.
func (l *Limiter) Check(provider string) error {
	b := l.bucket(provider)
	if b == nil {
		return nil
	}
	if !b.Allow() {
		metrics.RecordRateLimit(provider)
		return embederr.New(embederr.RateLimited, "rate limit exceeded for provider %s", provider)
	}
	return nil
}

// Configured reports whether the provider has a bucket installed.
func (l *Limiter) Configured(provider string) bool {
	return l.bucket(provider) != nil
}
