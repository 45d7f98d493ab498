package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/analytics"
	"github.com/trieve/retrieval-core/internal/apperr"
	"github.com/trieve/retrieval-core/internal/config"
	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/query"
	"github.com/trieve/retrieval-core/internal/rag"
	"github.com/trieve/retrieval-core/internal/repository"
	"github.com/trieve/retrieval-core/internal/retrieval"
)

// apiHandlers holds the collaborators every JSON route needs: the
// relational store (to resolve a dataset and its config snapshot per
// request, per spec 3's "Dataset ... immutable per request"), the
// retrieval pipeline, the RAG orchestrator, and the analytics emitter.
type apiHandlers struct {
	datasets  repository.DatasetRepository
	pipeline  *retrieval.Pipeline
	rag       *rag.Orchestrator
	analytics *analytics.Emitter
	logger    *slog.Logger
}

// resolveDataset loads the dataset named by the TR-Dataset header and
// decodes its config snapshot, both captured once at the top of the
// request per spec 3's concurrency model.
func (h *apiHandlers) resolveDataset(r *http.Request) (model.Dataset, config.DatasetConfig, error) {
	raw := r.Header.Get("TR-Dataset")
	if raw == "" {
		return model.Dataset{}, config.DatasetConfig{}, apperr.BadRequest("missing TR-Dataset header")
	}
	datasetID, err := uuid.Parse(raw)
	if err != nil {
		return model.Dataset{}, config.DatasetConfig{}, apperr.BadRequest("invalid TR-Dataset header: %v", err)
	}

	dataset, err := h.datasets.GetByID(r.Context(), datasetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Dataset{}, config.DatasetConfig{}, apperr.NotFound("dataset %s not found", datasetID)
		}
		return model.Dataset{}, config.DatasetConfig{}, apperr.Internal(err, "loading dataset")
	}

	cfg, err := config.Decode(dataset.Config.Raw)
	if err != nil {
		return model.Dataset{}, config.DatasetConfig{}, apperr.Internal(err, "decoding dataset config")
	}

	return *dataset, cfg, nil
}

func (h *apiHandlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	dataset, cfg, err := h.resolveDataset(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var reqDTO searchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, apperr.BadRequest("invalid request body: %v", err))
		return
	}

	searchReq, err := reqDTO.toModel(dataset.ID)
	if err != nil {
		writeError(w, apperr.BadRequest("%v", err))
		return
	}
	if searchReq.RemoveStopWords {
		searchReq.Query.Text = query.RemoveStopWords(searchReq.Query.Text)
	}
	parsed := query.ParseQuery(searchReq.Query.Text)

	start := time.Now()
	resp, err := h.pipeline.Search(r.Context(), dataset, cfg, searchReq, parsed)
	if err != nil {
		writeError(w, err)
		return
	}

	h.emitSearchEvent(r, dataset.ID, searchReq, resp.ScoreChunks, time.Since(start))
	writeJSON(w, http.StatusOK, searchResponseToDTO(resp))
}

func (h *apiHandlers) handleSearchGroups(w http.ResponseWriter, r *http.Request) {
	dataset, cfg, err := h.resolveDataset(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var reqDTO searchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, apperr.BadRequest("invalid request body: %v", err))
		return
	}

	searchReq, err := reqDTO.toModel(dataset.ID)
	if err != nil {
		writeError(w, apperr.BadRequest("%v", err))
		return
	}
	if searchReq.RemoveStopWords {
		searchReq.Query.Text = query.RemoveStopWords(searchReq.Query.Text)
	}
	parsed := query.ParseQuery(searchReq.Query.Text)

	resp, err := h.pipeline.SearchGroups(r.Context(), dataset, cfg, searchReq, parsed)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchOverGroupsResponseToDTO(resp))
}

func (h *apiHandlers) handleRAGQuery(w http.ResponseWriter, r *http.Request) {
	dataset, cfg, err := h.resolveDataset(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var reqDTO ragRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, apperr.BadRequest("invalid request body: %v", err))
		return
	}

	filters, err := reqDTO.Filters.toModel()
	if err != nil {
		writeError(w, apperr.BadRequest("%v", err))
		return
	}

	ragReq := rag.Request{
		Dataset:             dataset,
		Config:              cfg,
		TopicID:             reqDTO.TopicID,
		UserMessage:         reqDTO.UserMessage,
		QueryOverride:       reqDTO.QueryOverride,
		SearchType:          searchTypeFromString(reqDTO.SearchType),
		Filters:             filters,
		SortOptions:         reqDTO.SortOptions.toModel(),
		GroupOriented:       reqDTO.GroupOriented,
		CompletionFirst:     reqDTO.CompletionFirst,
		OnlyIncludeDocsUsed: reqDTO.OnlyIncludeDocsUsed,
		ImageURLs:           reqDTO.ImageURLs,
	}

	if caller, ok := callerFromRequest(r); ok {
		ragReq.UserID = caller
	}

	if !reqDTO.Stream {
		answer, queryID, err := h.rag.Query(r.Context(), ragReq)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("TR-QueryID", queryID.String())
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(answer))
		return
	}

	result, err := h.rag.QueryStream(r.Context(), ragReq)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("TR-QueryID", result.QueryID.String())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for chunk := range result.Chunks {
		if chunk.Err != nil {
			h.logger.Warn("rag stream ended with error", "error", chunk.Err)
			break
		}
		if _, err := w.Write(chunk.Bytes); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

func (h *apiHandlers) emitSearchEvent(r *http.Request, datasetID uuid.UUID, req model.SearchRequest, chunks []model.ScoreChunk, latency time.Duration) {
	if h.analytics == nil {
		return
	}
	var top float32
	results := make([]uuid.UUID, len(chunks))
	for i, c := range chunks {
		results[i] = c.Chunk.ID
		if c.Score > top {
			top = c.Score
		}
	}
	h.analytics.Send(analytics.Event{Search: &analytics.SearchEvent{
		ID:         uuid.New(),
		DatasetID:  datasetID,
		SearchType: searchTypeToString(req.SearchType),
		Query:      req.Query.Text,
		LatencyMs:  latency.Milliseconds(),
		TopScore:   top,
		Results:    results,
		UserID:     req.UserID,
		CreatedAt:  time.Now(),
	}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		writeJSON(w, statusForKind(appErr.Kind), map[string]string{"error": appErr.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindDuplicateTrackingID:
		return http.StatusConflict
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
