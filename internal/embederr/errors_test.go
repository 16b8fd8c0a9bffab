package embederr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindRetryable(t *testing.T) {
	retryable := []Kind{Database, Transport, Provider, RateLimited, ServiceUnavailable}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}
	terminal := []Kind{Internal, Config, Validation, InvalidDimension}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
}

func TestKindCodes(t *testing.T) {
	cases := map[Kind]string{
		Internal:           "INTERNAL_ERROR",
		Config:             "CONFIG_ERROR",
		Database:           "DATABASE_ERROR",
		Transport:          "HTTP_ERROR",
		Provider:           "EMBEDDING_ERROR",
		RateLimited:        "RATE_LIMIT",
		ServiceUnavailable: "SERVICE_UNAVAILABLE",
		Validation:         "VALIDATION_ERROR",
		InvalidDimension:   "INVALID_DIMENSION",
	}
	for k, want := range cases {
		if got := k.Code(); got != want {
			t.Errorf("Code(%d) = %q, want %q", k, got, want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Database, cause)
	if !errors.Is(err, cause) {
		t.Fatal("wrapped error should match its cause via errors.Is")
	}
	if KindOf(err) != Database {
		t.Fatalf("KindOf = %s, want DATABASE_ERROR", KindOf(err))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Database, nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
}

func TestKindSurvivesOuterWrapping(t *testing.T) {
	err := fmt.Errorf("embed record: %w", New(RateLimited, "provider throttled"))
	if KindOf(err) != RateLimited {
		t.Fatalf("KindOf = %s, want RATE_LIMIT", KindOf(err))
	}
	if !IsRetryable(err) {
		t.Fatal("rate limited errors should be retryable")
	}
}

func TestUnclassifiedIsInternal(t *testing.T) {
	err := errors.New("something odd")
	if KindOf(err) != Internal {
		t.Fatalf("KindOf = %s, want INTERNAL_ERROR", KindOf(err))
	}
	if IsRetryable(err) {
		t.Fatal("unclassified errors should not be retryable")
	}
}

func TestDimension(t *testing.T) {
	err := Dimension(1024, 768)
	if KindOf(err) != InvalidDimension {
		t.Fatalf("KindOf = %s, want INVALID_DIMENSION", KindOf(err))
	}
	want := "INVALID_DIMENSION: invalid embedding dimension: expected 1024, got 768"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
