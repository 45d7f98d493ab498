// Package embedder provides interfaces and implementations for dense and
// sparse text embedding, the collaborators the Vector Builder (spec 4.2)
// calls to turn query/chunk text into vectors.
package embedder

import "context"

// Embedder defines the interface for dense text embedding services.
type Embedder interface {
	// Embed generates an embedding vector for a single text input. isQuery
	// hints the embedding service to apply a query-side instruction prefix
	// rather than a document-side one, matching how search-time and
	// index-time embeddings can legitimately differ for the same model.
	Embed(ctx context.Context, text string, isQuery bool) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// SparseEmbedder defines the interface for SPLADE-like learned sparse
// embedding services, used for the sparse leg of a hybrid search (spec
// 4.2, 4.4).
type SparseEmbedder interface {
	// EmbedSparse generates a sparse vector as parallel index/value slices.
	EmbedSparse(ctx context.Context, text string) (indices []uint32, values []float32, err error)

	// EmbedSparseBatch generates sparse vectors for multiple inputs, in
	// the same order as the input texts.
	EmbedSparseBatch(ctx context.Context, texts []string) (indices [][]uint32, values [][]float32, err error)
}

// ModelConfig holds configuration for a specific embedding model.
type ModelConfig struct {
	Dimension       int // Embedding dimension
	ContextLength   int // Max tokens the model can process
	MaxChunkWords   int // Recommended max chunk size in words (safe limit)
	TargetChunkWords int // Recommended target chunk size in words
}

// KnownModels maps embedding model names to their configurations.
// These limits are conservative to avoid "context length exceeded" errors.
var KnownModels = map[string]ModelConfig{
	"nomic-embed-text": {
		Dimension:        768,
		ContextLength:    8192,
		MaxChunkWords:    512,  // ~700 tokens, safe margin under 8192
		TargetChunkWords: 256,
	},
	"mxbai-embed-large": {
		Dimension:        1024,
		ContextLength:    512,
		MaxChunkWords:    300,  // Very limited context
		TargetChunkWords: 150,
	},
	"all-minilm": {
		Dimension:        384,
		ContextLength:    256,
		MaxChunkWords:    150,
		TargetChunkWords: 100,
	},
	"snowflake-arctic-embed": {
		Dimension:        1024,
		ContextLength:    8192,
		MaxChunkWords:    512,
		TargetChunkWords: 256,
	},
}

// GetModelConfig returns the configuration for a model, or defaults if unknown.
func GetModelConfig(modelName string) ModelConfig {
	if cfg, ok := KnownModels[modelName]; ok {
		return cfg
	}
	// Conservative defaults for unknown models
	return ModelConfig{
		Dimension:        768,
		ContextLength:    2048,
		MaxChunkWords:    256,
		TargetChunkWords: 128,
	}
}
