package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oriys/embedstar/internal/embederr"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), "test_op", fastConfig(3), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, embederr.New(embederr.ServiceUnavailable, "not yet")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	cause := embederr.New(embederr.Config, "bad setup")
	_, err := Do(context.Background(), "test_op", fastConfig(5), func() (int, error) {
		attempts++
		return 0, cause
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry for config errors)", attempts)
	}
	if embederr.KindOf(err) != embederr.Config {
		t.Fatalf("kind = %s, want CONFIG_ERROR", embederr.KindOf(err))
	}
}

func TestBudgetExhausted(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), "test_op", fastConfig(2), func() (int, error) {
		attempts++
		return 0, embederr.New(embederr.Transport, "still down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	// One initial attempt plus two retries.
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if embederr.KindOf(err) != embederr.Transport {
		t.Fatalf("kind = %s, want HTTP_ERROR", embederr.KindOf(err))
	}
}

func TestContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := Do(ctx, "test_op", Config{
		MaxRetries:      10,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
	}, func() (int, error) {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return 0, embederr.New(embederr.Database, "down")
	})
	if err == nil {
		t.Fatal("expected error after cancel")
	}
	if !errors.Is(err, context.Canceled) && attempts > 2 {
		t.Fatalf("retrying continued after cancel: %d attempts, err %v", attempts, err)
	}
}

func TestUnclassifiedErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), "test_op", fastConfig(5), func() (int, error) {
		attempts++
		return 0, errors.New("plain failure")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}
