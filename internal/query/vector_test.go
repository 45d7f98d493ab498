package query

import (
	"context"
	"testing"

	"github.com/trieve/retrieval-core/internal/config"
	"github.com/trieve/retrieval-core/internal/model"
)

type fakeDenseEmbedder struct {
	dim int
}

func (f *fakeDenseEmbedder) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	// Deterministic per-text vector: every element equal to len(text).
	vec := make([]float32, f.dim)
	for i := range vec {
		vec[i] = float32(len(text))
	}
	return vec, nil
}

func (f *fakeDenseEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t, false)
		out[i] = v
	}
	return out, nil
}

func (f *fakeDenseEmbedder) Dimension() int   { return f.dim }
func (f *fakeDenseEmbedder) ModelName() string { return "fake-dense" }

type fakeSparseEmbedder struct{}

func (fakeSparseEmbedder) EmbedSparse(ctx context.Context, text string) ([]uint32, []float32, error) {
	return []uint32{1, 2}, []float32{0.5, 0.25}, nil
}

func (fakeSparseEmbedder) EmbedSparseBatch(ctx context.Context, texts []string) ([][]uint32, [][]float32, error) {
	indices := make([][]uint32, len(texts))
	values := make([][]float32, len(texts))
	for i := range texts {
		indices[i], values[i], _ = fakeSparseEmbedder{}.EmbedSparse(ctx, texts[i])
	}
	return indices, values, nil
}

func TestBuildSemantic_SingleQuery(t *testing.T) {
	b := NewBuilder(&fakeDenseEmbedder{dim: 3}, fakeSparseEmbedder{})
	cfg := config.DatasetConfig{SemanticEnabled: true}

	payload, err := b.BuildSemantic(context.Background(), cfg, []model.WeightedQuery{{Text: "abcd", Weight: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Sparse != nil {
		t.Error("expected Sparse to be nil for a semantic build")
	}
	for _, v := range payload.Dense {
		if v != 4 {
			t.Errorf("Dense = %v, want all-4s for 4-char query", payload.Dense)
		}
	}
}

func TestBuildSemantic_WeightedSumNotRenormalized(t *testing.T) {
	b := NewBuilder(&fakeDenseEmbedder{dim: 2}, fakeSparseEmbedder{})
	cfg := config.DatasetConfig{SemanticEnabled: true}

	queries := []model.WeightedQuery{
		{Text: "ab", Weight: 2}, // vec [2,2] * 2 = [4,4]
		{Text: "abcd", Weight: 1}, // vec [4,4] * 1 = [4,4]
	}
	payload, err := b.BuildSemantic(context.Background(), cfg, queries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range payload.Dense {
		if v != 8 {
			t.Errorf("Dense = %v, want all-8s (unnormalized weighted sum)", payload.Dense)
		}
	}
}

func TestBuildSemantic_DisabledReturnsError(t *testing.T) {
	b := NewBuilder(&fakeDenseEmbedder{dim: 2}, fakeSparseEmbedder{})
	cfg := config.DatasetConfig{SemanticEnabled: false}

	_, err := b.BuildSemantic(context.Background(), cfg, []model.WeightedQuery{{Text: "x"}})
	if err == nil {
		t.Fatal("expected an error when semantic search is disabled")
	}
}

func TestBuildSemantic_EmptyQueriesIsError(t *testing.T) {
	b := NewBuilder(&fakeDenseEmbedder{dim: 2}, fakeSparseEmbedder{})
	cfg := config.DatasetConfig{SemanticEnabled: true}

	_, err := b.BuildSemantic(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected an error for zero queries")
	}
}

func TestBuildFulltext_RejectsMultiQuery(t *testing.T) {
	b := NewBuilder(&fakeDenseEmbedder{dim: 2}, fakeSparseEmbedder{})
	cfg := config.DatasetConfig{FulltextEnabled: true}

	_, err := b.BuildFulltext(context.Background(), cfg, []model.WeightedQuery{{Text: "a"}, {Text: "b"}}, 0)
	if err == nil {
		t.Fatal("expected an error for multi-query fulltext input")
	}
}

func TestBuildFulltext_PhraseBoostScalesValues(t *testing.T) {
	b := NewBuilder(&fakeDenseEmbedder{dim: 2}, fakeSparseEmbedder{})
	cfg := config.DatasetConfig{FulltextEnabled: true}

	payload, err := b.BuildFulltext(context.Background(), cfg, []model.WeightedQuery{{Text: "shoes"}}, 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Sparse == nil {
		t.Fatal("expected a sparse payload")
	}
	want := []float32{1.0, 0.5}
	for i, v := range payload.Sparse.Values {
		if v != want[i] {
			t.Errorf("Values[%d] = %f, want %f", i, v, want[i])
		}
	}
}

func TestBuildFulltext_Disabled(t *testing.T) {
	b := NewBuilder(&fakeDenseEmbedder{dim: 2}, fakeSparseEmbedder{})
	cfg := config.DatasetConfig{FulltextEnabled: false}

	_, err := b.BuildFulltext(context.Background(), cfg, []model.WeightedQuery{{Text: "x"}}, 0)
	if err == nil {
		t.Fatal("expected an error when fulltext search is disabled")
	}
}

func TestBuildBM25_RejectsMultiQuery(t *testing.T) {
	b := NewBuilder(&fakeDenseEmbedder{dim: 2}, fakeSparseEmbedder{})
	cfg := config.DatasetConfig{BM25K: 1.2, BM25B: 0.75, BM25AvgLen: 256}

	_, err := b.BuildBM25(context.Background(), cfg, []model.WeightedQuery{{Text: "a"}, {Text: "b"}})
	if err == nil {
		t.Fatal("expected an error for multi-query BM25 input")
	}
}

func TestBuildBM25_ReturnsSparsePayload(t *testing.T) {
	b := NewBuilder(&fakeDenseEmbedder{dim: 2}, fakeSparseEmbedder{})
	cfg := config.DatasetConfig{BM25K: 1.2, BM25B: 0.75, BM25AvgLen: 256}

	payload, err := b.BuildBM25(context.Background(), cfg, []model.WeightedQuery{{Text: "red shoes"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Sparse == nil {
		t.Fatal("expected a sparse payload")
	}
	if payload.Dense != nil {
		t.Error("expected Dense to be nil for a BM25 build")
	}
}
