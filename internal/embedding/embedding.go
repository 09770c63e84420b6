// Package embedding produces dense vectors for entity text. Two
// providers exist: an OpenAI-backed one for real deployments and a
// deterministic local one for tests and offline runs.
package embedding

import "context"

// Provider turns text into a fixed-dimension vector.
type Provider interface {
	// Embed returns the vector for text. Empty or whitespace-only text
	// yields the zero vector rather than an error; callers treat zero
	// vectors as "no signal" and skip them during similarity search.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension is the length of every vector this provider returns.
	Dimension() int
}
