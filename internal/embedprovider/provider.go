// Package embedprovider defines the embedding backend collaborator. Per
// §9's "optional collaborators" design note, the core must never hard-fail
// when no provider is configured; NoopProvider is always available as the
// fallback.
package embedprovider

import (
	"context"
	"errors"
)

// ErrNoProvider is returned by NoopProvider so callers can distinguish
// "no embeddings available" from a real backend failure.
var ErrNoProvider = errors.New("embedprovider: no embedding provider configured")

// Provider computes a fixed-dimension dense embedding for a string.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// NoopProvider always fails with ErrNoProvider, degrading the dense stage
// of the retrieval pipeline to lexical-only per §7's ServiceUnavailable
// handling.
type NoopProvider struct{}

func (NoopProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrNoProvider
}

func (NoopProvider) Dimension() int { return 0 }
