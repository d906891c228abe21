// Package core defines the canonical types and interfaces for the LLM gateway.
package core

import (
	"context"
)

// Provider is the adapter contract every vendor integration implements.
// Implementations must be safe for concurrent use and hold no per-request state.
type Provider interface {
	// Name is the stable identifier used as the registry key.
	Name() string

	// SupportsStreaming is a static capability flag checked before StreamChatCompletion.
	SupportsStreaming() bool

	// ChatCompletion executes a single round-trip chat request.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamChatCompletion opens a vendor stream (caller must close).
	StreamChatCompletion(ctx context.Context, req *ChatRequest) (DeltaStream, error)

	// ListModels returns the vendor's model ids. An empty catalog is not an error.
	ListModels(ctx context.Context) ([]string, error)
}

// DeltaStream is a decoded vendor stream. Recv returns io.EOF only after a
// Delta with Done set has been returned; a body that ends early yields
// io.ErrUnexpectedEOF.
type DeltaStream interface {
	Recv() (Delta, error)
	Close() error
}

// AvailabilityChecker is an optional interface for providers that need
// to verify service availability before registration.
type AvailabilityChecker interface {
	// CheckAvailability verifies the provider's backend service is reachable.
	CheckAvailability(ctx context.Context) error
}
