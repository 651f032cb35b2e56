package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/kagami/pkg/utils"
)

// MockProvider is a deterministic provider for tests and offline mode. It returns
// a fixed-dimension vector derived from the text hash so that the same text always
// gets the same embedding.
type MockProvider struct {
	dimensions int
}

// NewMockProvider returns a provider that produces deterministic embeddings of the
// given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockProvider{dimensions: dimensions}
}

// Embed returns a deterministic embedding based on the text hash.
func (e *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	// Normalize to unit length for cosine similarity
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockProvider) Dimensions() int {
	return e.dimensions
}

// Model returns the model identifier stored with each embedding.
func (e *MockProvider) Model() string {
	return "mock"
}

// Close is a no-op for MockProvider.
func (e *MockProvider) Close() error {
	return nil
}

// HashString returns a deterministic FNV-1a hash of s.
func HashString(s string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h & 0x7fffffff)
}
