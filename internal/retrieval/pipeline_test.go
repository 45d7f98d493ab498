package retrieval

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/config"
	"github.com/trieve/retrieval-core/internal/filter"
	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/query"
	"github.com/trieve/retrieval-core/internal/vectorstore"
)

type constDenseEmbedder struct{ dim int }

func (e constDenseEmbedder) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	v := make([]float32, e.dim)
	for i := range v {
		v[i] = 0.1
	}
	return v, nil
}

type constSparseEmbedder struct{}

func (constSparseEmbedder) EmbedSparse(ctx context.Context, text string) ([]uint32, []float32, error) {
	return []uint32{1}, []float32{0.5}, nil
}
func (constSparseEmbedder) EmbedSparseBatch(ctx context.Context, texts []string) ([][]uint32, [][]float32, error) {
	idx := make([][]uint32, len(texts))
	vals := make([][]float32, len(texts))
	for i := range texts {
		idx[i] = []uint32{1}
		vals[i] = []float32{0.5}
	}
	return idx, vals, nil
}

type noopPipelineResolver struct{}

func (noopPipelineResolver) ResolveChunkTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	return nil, nil
}
func (noopPipelineResolver) ResolveGroupTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	return nil, nil
}
func (noopPipelineResolver) ResolveGroupMemberPointIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (noopPipelineResolver) ResolveGroupsByMetadata(ctx context.Context, datasetID uuid.UUID, key string, value any) ([]uuid.UUID, error) {
	return nil, nil
}

func newTestPipeline(idx *fakeIndex, chunks fakeChunkRepo, groups fakeGroupRepo) *Pipeline {
	builder := query.NewBuilder(constDenseEmbedder{dim: 4}, constSparseEmbedder{})
	compiler := filter.New(noopPipelineResolver{})
	planner := query.NewPlanner(builder, compiler, 100)
	executor := NewExecutor(idx, nil)
	hydrator := NewHydrator(chunks, groups)
	return NewPipeline(planner, executor, hydrator)
}

func TestPipeline_Search_ReturnsHydratedResults(t *testing.T) {
	pointA := uuid.New()
	idx := &fakeIndex{searchFn: func(q vectorstore.Query) []vectorstore.Hit {
		return []vectorstore.Hit{{ID: pointA, Score: 0.8}}
	}}
	chunks := fakeChunkRepo{byPoint: map[uuid.UUID]model.Chunk{pointA: {PointID: pointA, HTML: "hi"}}}
	pipe := newTestPipeline(idx, chunks, fakeGroupRepo{})

	req := model.SearchRequest{
		DatasetID:  uuid.New(),
		SearchType: model.SearchSemantic,
		Query:      model.QueryInput{Text: "hello"},
		PageSize:   10,
	}
	cfg := config.DatasetConfig{SemanticEnabled: true, NRetrievalsToInclude: 8}

	resp, err := pipe.Search(context.Background(), model.Dataset{ID: req.DatasetID}, cfg, req, model.ParsedQuery{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ScoreChunks) != 1 || resp.ScoreChunks[0].Chunk.PointID != pointA {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestPipeline_Search_TruncatesToPageSize(t *testing.T) {
	pointA, pointB := uuid.New(), uuid.New()
	idx := &fakeIndex{searchFn: func(q vectorstore.Query) []vectorstore.Hit {
		return []vectorstore.Hit{{ID: pointA, Score: 0.9}, {ID: pointB, Score: 0.8}}
	}}
	chunks := fakeChunkRepo{byPoint: map[uuid.UUID]model.Chunk{
		pointA: {PointID: pointA},
		pointB: {PointID: pointB},
	}}
	pipe := newTestPipeline(idx, chunks, fakeGroupRepo{})

	req := model.SearchRequest{
		DatasetID:  uuid.New(),
		SearchType: model.SearchSemantic,
		Query:      model.QueryInput{Text: "hello"},
		PageSize:   1,
	}
	cfg := config.DatasetConfig{SemanticEnabled: true, NRetrievalsToInclude: 8}

	resp, err := pipe.Search(context.Background(), model.Dataset{ID: req.DatasetID}, cfg, req, model.ParsedQuery{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ScoreChunks) != 1 {
		t.Errorf("expected page size to cap results to 1, got %d", len(resp.ScoreChunks))
	}
}

func TestPipeline_SearchGroups_UnrecognizedSearchTypeErrors(t *testing.T) {
	idx := &fakeIndex{searchFn: func(q vectorstore.Query) []vectorstore.Hit { return nil }}
	pipe := newTestPipeline(idx, fakeChunkRepo{}, fakeGroupRepo{})

	req := model.SearchRequest{
		DatasetID:  uuid.New(),
		SearchType: model.SearchType(99),
		Query:      model.QueryInput{Text: "hello"},
	}
	cfg := config.DatasetConfig{NRetrievalsToInclude: 8}

	_, err := pipe.SearchGroups(context.Background(), model.Dataset{ID: req.DatasetID}, cfg, req, model.ParsedQuery{Text: "hello"})
	if err == nil {
		t.Error("expected an error for an unrecognized search type")
	}
}
