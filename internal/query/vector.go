package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/trieve/retrieval-core/internal/apperr"
	"github.com/trieve/retrieval-core/internal/config"
	"github.com/trieve/retrieval-core/internal/embedder"
	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/vectorstore"
)

// VectorPayload is the output of the Vector Builder (spec 4.2): exactly
// one of Dense or Sparse is populated, never both.
type VectorPayload struct {
	Dense  []float32
	Sparse *vectorstore.SparseVector
}

// Builder turns parsed queries into vector payloads by calling the dense
// and sparse embedding collaborators.
type Builder struct {
	Dense  embedder.Embedder
	Sparse embedder.SparseEmbedder
}

func NewBuilder(dense embedder.Embedder, sparse embedder.SparseEmbedder) *Builder {
	return &Builder{Dense: dense, Sparse: sparse}
}

// BuildSemantic embeds one or more weighted queries with the dense
// embedder and combines them as an unnormalized weighted elementwise sum
// (spec 4.2: "no renormalization"). A single unweighted query is the
// common case of weightedQueries having one entry with weight 1.
func (b *Builder) BuildSemantic(ctx context.Context, cfg config.DatasetConfig, queries []model.WeightedQuery) (VectorPayload, error) {
	if !cfg.SemanticEnabled {
		return VectorPayload{}, apperr.BadRequest("semantic search is disabled for this dataset")
	}
	if len(queries) == 0 {
		return VectorPayload{}, fmt.Errorf("semantic vector build requires at least one query")
	}

	embeddings := make([][]float32, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			vec, err := b.Dense.Embed(gctx, q.Text, true)
			if err != nil {
				return fmt.Errorf("embedding query %d: %w", i, err)
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return VectorPayload{}, err
	}

	dim := len(embeddings[0])
	sum := make([]float32, dim)
	for i, vec := range embeddings {
		w := queries[i].Weight
		if w == 0 {
			w = 1
		}
		for j := 0; j < dim && j < len(vec); j++ {
			sum[j] += vec[j] * w
		}
	}
	return VectorPayload{Dense: sum}, nil
}

// BuildFulltext embeds a single query with the learned sparse embedder
// (spec 4.2). Multi-query input is rejected. phraseBoost, when positive,
// multiplies every weight of the sparse vector.
func (b *Builder) BuildFulltext(ctx context.Context, cfg config.DatasetConfig, queries []model.WeightedQuery, phraseBoost float32) (VectorPayload, error) {
	if !cfg.FulltextEnabled {
		return VectorPayload{}, fmt.Errorf("fulltext search is disabled for this dataset")
	}
	if len(queries) != 1 {
		return VectorPayload{}, apperr.BadRequest("fulltext search does not accept multi-query input")
	}

	indices, values, err := b.Sparse.EmbedSparse(ctx, queries[0].Text)
	if err != nil {
		return VectorPayload{}, fmt.Errorf("embedding sparse query: %w", err)
	}
	if phraseBoost > 0 {
		for i := range values {
			values[i] *= phraseBoost
		}
	}
	return VectorPayload{Sparse: &vectorstore.SparseVector{Indices: indices, Values: values}}, nil
}

// BuildBM25 computes a sparse vector locally from the dataset's BM25
// tuning parameters (spec 4.2). Single query only.
func (b *Builder) BuildBM25(ctx context.Context, cfg config.DatasetConfig, queries []model.WeightedQuery) (VectorPayload, error) {
	if len(queries) != 1 {
		return VectorPayload{}, apperr.BadRequest("bm25 search does not accept multi-query input")
	}
	bm25 := embedder.NewBM25SparseEmbedder(cfg.BM25K, cfg.BM25B, cfg.BM25AvgLen)
	indices, values, err := bm25.EmbedSparse(ctx, queries[0].Text)
	if err != nil {
		return VectorPayload{}, err
	}
	return VectorPayload{Sparse: &vectorstore.SparseVector{Indices: indices, Values: values}}, nil
}
