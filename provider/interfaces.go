// Package provider defines the Image Provider strategy: an opaque
// capability that, given a prompt and generation parameters, returns an
// encoded PNG and accounting fields, or a classified failure. It is
// modeled as a small interface plus a factory registry.
package provider

import (
	"context"
	"fmt"
)

// FailureKind classifies why Generate did not return an image.
type FailureKind string

const (
	// Transient failures are retryable: rate limits, 5xx, timeouts, network.
	Transient FailureKind = "transient"
	// Permanent failures are not retryable: bad requests, policy refusals,
	// unparseable 2xx bodies.
	Permanent FailureKind = "permanent"
	// Cancelled means the caller's context was cancelled mid-call.
	Cancelled FailureKind = "cancelled"
)

// Failure is the error type every Provider implementation returns on a
// non-nil error from Generate. Callers branch on Kind, not on the
// wrapped error.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("provider: %s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("provider: %s", f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf extracts the FailureKind from err, defaulting to Permanent for
// any error that did not originate as a *Failure.
func KindOf(err error) FailureKind {
	if f, ok := err.(*Failure); ok {
		return f.Kind
	}
	return Permanent
}

// Params configures one generation call.
type Params struct {
	Width  int
	Height int
	Model  string
	// CallIndex is the zero-indexed retry attempt number for this
	// Generate call within one task, set by the caller so a Provider can
	// vary its response by attempt without tracking call order itself.
	CallIndex int
}

// Result is a successful generation outcome.
type Result struct {
	PNG  []byte
	Cost float64
}

// Provider is the pluggable image-generation capability.
type Provider interface {
	// Name identifies the provider for artifact metadata (e.g. "mock", "remote").
	Name() string
	// Generate produces one image for prompt. A non-nil error is always
	// a *Failure.
	Generate(ctx context.Context, prompt string, params Params) (*Result, error)
}
