// Package embederr classifies pipeline failures so retry loops and metrics
// can tell transient infrastructure trouble from caller mistakes.
package embederr

import (
	"errors"
	"fmt"
)

// Kind is the failure classification.
type Kind int

const (
	Internal Kind = iota
	Config
	Database
	Transport
	Provider
	RateLimited
	ServiceUnavailable
	Validation
	InvalidDimension
)

// Retryable reports whether a failure of this kind is worth retrying.
func (k Kind) Retryable() bool {
	switch k {
	case Database, Transport, Provider, RateLimited, ServiceUnavailable:
		return true
	}
	return false
}

// Code returns the stable identifier used in logs and metric labels.
func (k Kind) Code() string {
	switch k {
	case Config:
		return "CONFIG_ERROR"
	case Database:
		return "DATABASE_ERROR"
	case Transport:
		return "HTTP_ERROR"
	case Provider:
		return "EMBEDDING_ERROR"
	case RateLimited:
		return "RATE_LIMIT"
	case ServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case Validation:
		return "VALIDATION_ERROR"
	case InvalidDimension:
		return "INVALID_DIMENSION"
	}
	return "INTERNAL_ERROR"
}

func (k Kind) String() string { return k.Code() }

// Error carries a Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind.Code(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Dimension reports a vector whose length does not match the model's output.
func Dimension(expected, actual int) error {
	return New(InvalidDimension, "invalid embedding dimension: expected %d, got %d", expected, actual)
}

// KindOf returns the classification of err. Errors that never passed through
// this package classify as Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsRetryable reports whether err should be handed to a retry envelope.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
