// Package reranker provides re-ranking capabilities for hybrid retrieval
// results.
//
// Re-ranking uses cross-encoder scoring to improve retrieval precision by
// evaluating query-document pairs together rather than independently.
//
// # Trade-offs
//
// Reranking is a per-dataset configuration option and only runs for
// hybrid queries (spec 4.5).
//
//   - Latency: adds a network round trip per query to the reranker service.
//   - Quality: significantly better relevance when dense and sparse legs
//     disagree on ordering.
//   - Cost: the union is capped at DefaultRerankBatchSize candidates; the
//     remainder is appended unsorted rather than scored.
package reranker

import (
	"context"

	"github.com/trieve/retrieval-core/internal/vectorstore"
)

// DefaultRerankBatchSize is the cross-encoder batch cap named in spec
// 4.5: candidates beyond this count are appended to the output in their
// original (fused, pre-rerank) order rather than scored, trading recall
// on a long tail for bounded reranker latency.
const DefaultRerankBatchSize = 20

// ScoredResult represents a search result with an additional reranking score.
type ScoredResult struct {
	vectorstore.Hit
	RerankerScore float32
}

// Reranker defines the interface for re-ranking search results.
type Reranker interface {
	// Rerank takes a query and search results, and returns them re-ordered
	// by relevance with updated scores. The topK parameter limits the
	// output. Implementations honor DefaultRerankBatchSize (or a
	// configured override): only the leading batch is sent to the
	// scoring service, the rest is appended unsorted.
	Rerank(ctx context.Context, query string, results []vectorstore.Hit, topK int) ([]ScoredResult, error)
}
