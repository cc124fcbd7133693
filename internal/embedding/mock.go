package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// MockEmbedder is a deterministic embedder for tests. Each token hashes to
// a fixed pseudo-random vector and a text embeds to the normalized sum of
// its token vectors, so texts sharing words land close together.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder creates a mock embedder with the given dimension
// (default: 64).
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed generates a deterministic embedding for the text.
func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		tokens = []string{""}
	}

	vec := make([]float32, m.dimensions)
	for _, token := range tokens {
		m.addTokenVector(vec, token)
	}
	Normalize(vec)
	return vec, nil
}

// EmbedBatch generates deterministic embeddings for texts in order.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// addTokenVector accumulates the token's fixed pseudo-random vector into vec.
// A 64-bit FNV hash seeds an xorshift generator per token.
func (m *MockEmbedder) addTokenVector(vec []float32, token string) {
	h := fnv.New64a()
	h.Write([]byte(token))
	state := h.Sum64() | 1

	for i := range vec {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		// Map to [-1, 1).
		vec[i] += float32(int64(state)) / float32(1<<63)
	}
}

var _ Generator = (*MockEmbedder)(nil)
