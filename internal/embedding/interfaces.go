// Package embedding provides text embedding generation for the entity
// index, with an Ollama-backed client and a deterministic mock for tests.
package embedding

import "context"

// Generator produces embedding vectors for alias and candidate texts.
// Returned vectors are L2-normalized so that inner product equals cosine
// similarity.
type Generator interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts, preserving input order.
	// It either returns one vector per input or an error; partial
	// results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int
}
