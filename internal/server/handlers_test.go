package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/apperr"
	"github.com/trieve/retrieval-core/internal/auth"
	"github.com/trieve/retrieval-core/internal/config"
	"github.com/trieve/retrieval-core/internal/filter"
	"github.com/trieve/retrieval-core/internal/llm"
	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/query"
	"github.com/trieve/retrieval-core/internal/rag"
	"github.com/trieve/retrieval-core/internal/repository"
	"github.com/trieve/retrieval-core/internal/retrieval"
	"github.com/trieve/retrieval-core/internal/vectorstore"
)

type stubDatasetRepo struct {
	byID map[uuid.UUID]*model.Dataset
}

func (s stubDatasetRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Dataset, error) {
	if d, ok := s.byID[id]; ok {
		return d, nil
	}
	return nil, repository.ErrNotFound
}

func TestResolveDataset_MissingHeader(t *testing.T) {
	h := &apiHandlers{datasets: stubDatasetRepo{}}
	r := httptest.NewRequest(http.MethodGet, "/search", nil)

	_, _, err := h.resolveDataset(r)
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("expected a bad-request error for a missing TR-Dataset header, got %v", err)
	}
}

func TestResolveDataset_InvalidUUID(t *testing.T) {
	h := &apiHandlers{datasets: stubDatasetRepo{}}
	r := httptest.NewRequest(http.MethodGet, "/search", nil)
	r.Header.Set("TR-Dataset", "not-a-uuid")

	_, _, err := h.resolveDataset(r)
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("expected a bad-request error for an invalid TR-Dataset header, got %v", err)
	}
}

func TestResolveDataset_NotFound(t *testing.T) {
	h := &apiHandlers{datasets: stubDatasetRepo{}}
	r := httptest.NewRequest(http.MethodGet, "/search", nil)
	r.Header.Set("TR-Dataset", uuid.New().String())

	_, _, err := h.resolveDataset(r)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected a not-found error for an unknown dataset, got %v", err)
	}
}

func TestResolveDataset_DecodesConfig(t *testing.T) {
	id := uuid.New()
	ds := &model.Dataset{ID: id, Config: model.DatasetConfigRef{Raw: []byte(`{"NRetrievalsToInclude": 4}`)}}
	h := &apiHandlers{datasets: stubDatasetRepo{byID: map[uuid.UUID]*model.Dataset{id: ds}}}
	r := httptest.NewRequest(http.MethodGet, "/search", nil)
	r.Header.Set("TR-Dataset", id.String())

	dataset, cfg, err := h.resolveDataset(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dataset.ID != id || cfg.NRetrievalsToInclude != 4 {
		t.Errorf("unexpected resolved dataset/config: %+v %+v", dataset, cfg)
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindBadRequest:         http.StatusBadRequest,
		apperr.KindNotFound:           http.StatusNotFound,
		apperr.KindDuplicateTrackingID: http.StatusConflict,
		apperr.KindForbidden:          http.StatusForbidden,
		apperr.KindInternal:           http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Errorf("statusForKind(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestWriteError_AppErrorUsesMappedStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, apperr.NotFound("missing %s", "x"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWriteError_PlainErrorIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, context.DeadlineExceeded)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCallerFromRequest_NoCallerInContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := callerFromRequest(r); ok {
		t.Error("expected no caller when none is attached to the context")
	}
}

func TestCallerFromRequest_UsesAttachedCallerUserID(t *testing.T) {
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))
	orgID := uuid.New()
	token, err := manager.GenerateToken(orgID, "acme")
	if err != nil {
		t.Fatalf("unexpected error generating token: %v", err)
	}

	var got string
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = callerFromRequest(r)
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(auth.APIKeyHeader, "some-key")
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	auth.RequireCaller(manager)(next).ServeHTTP(rec, r)

	if !ok || got != orgID.String() {
		t.Errorf("callerFromRequest = %q, %v; want %q, true", got, ok, orgID.String())
	}
}

type handlersDenseEmbedder struct{ dim int }

func (e handlersDenseEmbedder) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	v := make([]float32, e.dim)
	for i := range v {
		v[i] = 0.1
	}
	return v, nil
}

type handlersSparseEmbedder struct{}

func (handlersSparseEmbedder) EmbedSparse(ctx context.Context, text string) ([]uint32, []float32, error) {
	return []uint32{1}, []float32{0.5}, nil
}
func (handlersSparseEmbedder) EmbedSparseBatch(ctx context.Context, texts []string) ([][]uint32, [][]float32, error) {
	idx := make([][]uint32, len(texts))
	vals := make([][]float32, len(texts))
	for i := range texts {
		idx[i] = []uint32{1}
		vals[i] = []float32{0.5}
	}
	return idx, vals, nil
}

type handlersResolver struct{}

func (handlersResolver) ResolveChunkTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	return nil, nil
}
func (handlersResolver) ResolveGroupTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	return nil, nil
}
func (handlersResolver) ResolveGroupMemberPointIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (handlersResolver) ResolveGroupsByMetadata(ctx context.Context, datasetID uuid.UUID, key string, value any) ([]uuid.UUID, error) {
	return nil, nil
}

type handlersIndex struct {
	hits []vectorstore.Hit
}

func (f *handlersIndex) EnsureCollection(ctx context.Context, datasetID uuid.UUID, dimension int) error {
	return nil
}
func (f *handlersIndex) Upsert(ctx context.Context, datasetID uuid.UUID, points []vectorstore.Point) error {
	return nil
}
func (f *handlersIndex) DeleteByIDs(ctx context.Context, datasetID uuid.UUID, ids []uuid.UUID) error {
	return nil
}
func (f *handlersIndex) DeleteByFilter(ctx context.Context, datasetID uuid.UUID, filter *vectorstore.Filter) error {
	return nil
}
func (f *handlersIndex) Search(ctx context.Context, datasetID uuid.UUID, q vectorstore.Query) ([]vectorstore.Hit, error) {
	return f.hits, nil
}
func (f *handlersIndex) SearchGroups(ctx context.Context, datasetID uuid.UUID, q vectorstore.Query) ([]vectorstore.GroupHit, error) {
	return nil, nil
}
func (f *handlersIndex) Count(ctx context.Context, datasetID uuid.UUID, filter *vectorstore.Filter) (int, error) {
	return len(f.hits), nil
}

type handlersChunkRepo struct {
	byPoint map[uuid.UUID]model.Chunk
}

func (f handlersChunkRepo) GetByPointIDs(ctx context.Context, datasetID uuid.UUID, pointIDs []uuid.UUID, projection model.ChunkProjection) ([]model.Chunk, error) {
	out := make([]model.Chunk, 0, len(pointIDs))
	for _, id := range pointIDs {
		if c, ok := f.byPoint[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f handlersChunkRepo) ResolveTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	return nil, nil
}

type handlersGroupRepo struct{}

func (handlersGroupRepo) GetByIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]model.ChunkGroup, error) {
	return nil, nil
}
func (handlersGroupRepo) ResolveTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	return nil, nil
}
func (handlersGroupRepo) MemberPointIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (handlersGroupRepo) FindByMetadata(ctx context.Context, datasetID uuid.UUID, key string, value any) ([]uuid.UUID, error) {
	return nil, nil
}

func TestHandleSearch_HappyPath(t *testing.T) {
	datasetID := uuid.New()
	pointID := uuid.New()
	ds := &model.Dataset{ID: datasetID}

	idx := &handlersIndex{hits: []vectorstore.Hit{{ID: pointID, Score: 0.7}}}
	chunks := handlersChunkRepo{byPoint: map[uuid.UUID]model.Chunk{pointID: {PointID: pointID, HTML: "hello"}}}

	builder := query.NewBuilder(handlersDenseEmbedder{dim: 4}, handlersSparseEmbedder{})
	compiler := filter.New(handlersResolver{})
	planner := query.NewPlanner(builder, compiler, 100)
	executor := retrieval.NewExecutor(idx, nil)
	hydrator := retrieval.NewHydrator(chunks, handlersGroupRepo{})
	pipeline := retrieval.NewPipeline(planner, executor, hydrator)

	h := &apiHandlers{
		datasets: stubDatasetRepo{byID: map[uuid.UUID]*model.Dataset{datasetID: ds}},
		pipeline: pipeline,
		logger:   slog.Default(),
	}

	body, _ := json.Marshal(map[string]any{"query": map[string]any{"text": "hello"}, "search_type": "semantic"})
	r := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	r.Header.Set("TR-Dataset", datasetID.String())
	rec := httptest.NewRecorder()

	h.handleSearch(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp searchResponseDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.ScoreChunks) != 1 {
		t.Errorf("expected one score chunk, got %+v", resp.ScoreChunks)
	}
}

func TestHandleSearch_MissingDatasetHeaderReturnsBadRequest(t *testing.T) {
	h := &apiHandlers{datasets: stubDatasetRepo{}, logger: slog.Default()}
	r := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.handleSearch(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSearchGroups_UnrecognizedSearchTypeDefaultsToSemantic(t *testing.T) {
	datasetID := uuid.New()
	ds := &model.Dataset{ID: datasetID}

	idx := &handlersIndex{}
	builder := query.NewBuilder(handlersDenseEmbedder{dim: 4}, handlersSparseEmbedder{})
	compiler := filter.New(handlersResolver{})
	planner := query.NewPlanner(builder, compiler, 100)
	executor := retrieval.NewExecutor(idx, nil)
	hydrator := retrieval.NewHydrator(handlersChunkRepo{}, handlersGroupRepo{})
	pipeline := retrieval.NewPipeline(planner, executor, hydrator)

	h := &apiHandlers{
		datasets: stubDatasetRepo{byID: map[uuid.UUID]*model.Dataset{datasetID: ds}},
		pipeline: pipeline,
		logger:   slog.Default(),
	}

	body, _ := json.Marshal(map[string]any{"query": map[string]any{"text": "hello"}, "search_type": "not-a-real-type"})
	r := httptest.NewRequest(http.MethodPost, "/search_groups", bytes.NewReader(body))
	r.Header.Set("TR-Dataset", datasetID.String())
	rec := httptest.NewRecorder()

	h.handleSearchGroups(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

type handlersLLM struct{}

func (handlersLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return "the answer", nil
}
func (handlersLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

type handlersMessageRepo struct{}

func (handlersMessageRepo) GetTopicMessages(ctx context.Context, topicID uuid.UUID) ([]repository.Message, error) {
	return nil, nil
}
func (handlersMessageRepo) CreateMessage(ctx context.Context, msg *repository.Message) error {
	return nil
}

func TestHandleRAGQuery_HappyPathNonStreaming(t *testing.T) {
	datasetID := uuid.New()
	pointID := uuid.New()
	ds := &model.Dataset{ID: datasetID}

	idx := &handlersIndex{hits: []vectorstore.Hit{{ID: pointID, Score: 0.7}}}
	chunks := handlersChunkRepo{byPoint: map[uuid.UUID]model.Chunk{pointID: {PointID: pointID, HTML: "hello"}}}

	builder := query.NewBuilder(handlersDenseEmbedder{dim: 4}, handlersSparseEmbedder{})
	compiler := filter.New(handlersResolver{})
	planner := query.NewPlanner(builder, compiler, 100)
	executor := retrieval.NewExecutor(idx, nil)
	hydrator := retrieval.NewHydrator(chunks, handlersGroupRepo{})
	pipeline := retrieval.NewPipeline(planner, executor, hydrator)

	orch := &rag.Orchestrator{
		Retrieval: pipeline,
		LLM:       handlersLLM{},
		Messages:  handlersMessageRepo{},
	}

	h := &apiHandlers{
		datasets: stubDatasetRepo{byID: map[uuid.UUID]*model.Dataset{datasetID: ds}},
		pipeline: pipeline,
		rag:      orch,
		logger:   slog.Default(),
	}

	body, _ := json.Marshal(map[string]any{"user_message": "hello there", "search_type": "semantic"})
	r := httptest.NewRequest(http.MethodPost, "/message", bytes.NewReader(body))
	r.Header.Set("TR-Dataset", datasetID.String())
	rec := httptest.NewRecorder()

	h.handleRAGQuery(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("TR-QueryID") == "" {
		t.Error("expected a TR-QueryID response header")
	}
	if rec.Body.Len() == 0 {
		t.Error("expected a non-empty answer body")
	}
}

func TestHandleSearch_InvalidBodyReturnsBadRequest(t *testing.T) {
	datasetID := uuid.New()
	ds := &model.Dataset{ID: datasetID}
	h := &apiHandlers{
		datasets: stubDatasetRepo{byID: map[uuid.UUID]*model.Dataset{datasetID: ds}},
		logger:   slog.Default(),
	}
	r := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader([]byte(`not json`)))
	r.Header.Set("TR-Dataset", datasetID.String())
	rec := httptest.NewRecorder()

	h.handleSearch(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
