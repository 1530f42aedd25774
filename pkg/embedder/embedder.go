// Package embedder turns text into fixed-dimension dense vectors through a
// pluggable backend. Production deployments wire Ollama or OpenAI; tests
// wire the deterministic Fake.
package embedder

import (
	"context"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	// Embed converts text to a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Model returns the model name being used.
	Model() string
}
