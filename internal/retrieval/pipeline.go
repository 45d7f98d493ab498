package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/config"
	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/query"
)

// Pipeline wires the Query Planner, Retrieval Executor, Post-Scorer, and
// Chunk Hydrator into the single entry point both the ranked-search HTTP
// route and the RAG Orchestrator call (spec section 4's data-flow
// diagram: Planner -> Executor (-> Fusion) -> Post-Scorer -> Hydrator).
type Pipeline struct {
	Planner  *query.Planner
	Executor *Executor
	Hydrator *Hydrator
}

func NewPipeline(planner *query.Planner, executor *Executor, hydrator *Hydrator) *Pipeline {
	return &Pipeline{Planner: planner, Executor: executor, Hydrator: hydrator}
}

// Search runs the full ranked-search pipeline for one request and returns
// the final page of score chunks plus total page count (when requested).
func (p *Pipeline) Search(ctx context.Context, dataset model.Dataset, cfg config.DatasetConfig, req model.SearchRequest, parsed model.ParsedQuery) (model.SearchResponse, error) {
	var plans []query.Plan
	var err error
	if req.Autocomplete {
		plans, err = p.Planner.PlanAutocomplete(ctx, dataset, cfg, req, parsed, req.ExtendResults)
	} else {
		plans, err = p.Planner.Plan(ctx, dataset, cfg, req, parsed)
	}
	if err != nil {
		return model.SearchResponse{}, fmt.Errorf("planning query: %w", err)
	}

	mmrRequested := req.SortOptions != nil && req.SortOptions.MMR != nil && req.SortOptions.MMR.UseMMR
	exec, err := p.Executor.Run(ctx, dataset.ID, plans, parsed.Text, req.GetTotalPages, mmrRequested)
	if err != nil {
		return model.SearchResponse{}, fmt.Errorf("executing query: %w", err)
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = cfg.NRetrievalsToInclude
	}

	queryText := parsed.Text
	if req.Autocomplete {
		queryText = "" // autocomplete highlights are not single-query (spec 4.7: single-query only)
	}
	chunks, embeddings, err := p.Hydrator.Hydrate(ctx, dataset.ID, exec.Hits, req.Projection, queryText, req.HighlightOptions)
	if err != nil {
		return model.SearchResponse{}, err
	}

	scoreChunks := make([]model.ScoreChunk, len(chunks))
	copy(scoreChunks, chunks)
	scoreChunks = PostScore(scoreChunks, embeddings, req.SortOptions)
	if len(scoreChunks) > limit {
		scoreChunks = scoreChunks[:limit]
	}

	return model.SearchResponse{
		ID:          uuid.New(),
		ScoreChunks: scoreChunks,
		TotalPages:  exec.TotalPages,
	}, nil
}

// SearchGroups runs the group-scoped pipeline variant (spec 4.8).
func (p *Pipeline) SearchGroups(ctx context.Context, dataset model.Dataset, cfg config.DatasetConfig, req model.SearchRequest, parsed model.ParsedQuery) (model.SearchOverGroupsResponse, error) {
	plans, err := p.Planner.Plan(ctx, dataset, cfg, req, parsed)
	if err != nil {
		return model.SearchOverGroupsResponse{}, fmt.Errorf("planning group query: %w", err)
	}
	if len(plans) == 0 {
		return model.SearchOverGroupsResponse{}, nil
	}

	groupHits, err := p.Executor.RunGroups(ctx, dataset.ID, plans[0], parsed.Text)
	if err != nil {
		return model.SearchOverGroupsResponse{}, err
	}

	groups, err := p.Hydrator.GroupHydrate(ctx, dataset.ID, groupHits, req.Projection, parsed.Text, req.HighlightOptions)
	if err != nil {
		return model.SearchOverGroupsResponse{}, err
	}

	embeddings := make(map[uuid.UUID][]float32)
	for _, gh := range groupHits {
		for _, hit := range gh.Hits {
			if hit.Embedding != nil {
				embeddings[hit.ID] = hit.Embedding
			}
		}
	}
	groups = PostScoreGroups(groups, embeddings, req.SortOptions)

	limit := req.PageSize
	if limit <= 0 {
		limit = cfg.NRetrievalsToInclude
	}
	if len(groups) > limit {
		groups = groups[:limit]
	}

	return model.SearchOverGroupsResponse{
		ID:      uuid.New(),
		Results: groups,
	}, nil
}
