// Package embedding defines the external embedding provider interface and caching.
package embedding

import "context"

// Provider produces vector embeddings for text. Implementations call an external
// service; failures are batch-scoped and never fatal to an embedding job.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	Close() error
}
