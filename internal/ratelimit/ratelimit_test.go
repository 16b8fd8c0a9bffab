package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oriys/embedstar/internal/embederr"
)

func TestUnconfiguredProviderIsUnlimited(t *testing.T) {
	l := New()

	start := time.Now()
	if err := l.Wait(context.Background(), "ollama"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("wait on unconfigured provider took %v, want immediate return", elapsed)
	}
	if err := l.Check("ollama"); err != nil {
		t.Fatalf("check on unconfigured provider: %v", err)
	}
}

func TestZeroRPMRemovesBucket(t *testing.T) {
	l := New()
	l.Configure("openai", 60)
	if !l.Configured("openai") {
		t.Fatal("bucket should be installed")
	}
	l.Configure("openai", 0)
	if l.Configured("openai") {
		t.Fatal("zero rpm should remove the bucket")
	}
}

func TestCheckExhaustsBurst(t *testing.T) {
	l := New()
	l.Configure("together", 2)

	if err := l.Check("together"); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := l.Check("together"); err != nil {
		t.Fatalf("second check: %v", err)
	}

	err := l.Check("together")
	if err == nil {
		t.Fatal("third check should be rate limited")
	}
	if embederr.KindOf(err) != embederr.RateLimited {
		t.Fatalf("kind = %v, want RateLimited", embederr.KindOf(err))
	}
	if !embederr.IsRetryable(err) {
		t.Fatal("rate limit errors must be retryable")
	}
}

func TestWaitRespectsContext(t *testing.T) {
	l := New()
	l.Configure("openai", 1)

	// Drain the single burst token.
	if err := l.Check("openai"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, "openai")
	if err == nil {
		t.Fatal("wait should fail when the context expires before a token frees up")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
}

func TestConfigureIsIdempotent(t *testing.T) {
	l := New()
	l.Configure("ollama", 120)
	l.Configure("ollama", 120)

	if err := l.Check("ollama"); err != nil {
		t.Fatalf("check after reconfigure: %v", err)
	}
}
