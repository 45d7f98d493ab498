package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/query"
	"github.com/trieve/retrieval-core/internal/reranker"
	"github.com/trieve/retrieval-core/internal/vectorstore"
)

// RunGroups executes a single group-aware plan (spec 4.8): the vector
// index returns, per distinct group id, its top-k member hits (the best
// hit's score stands for the group). Hybrid group plans fuse each
// group's dense+sparse legs independently before any cross-encoder pass,
// since the cross-encoder operates over individual chunk text, not group
// aggregates.
func (e *Executor) RunGroups(ctx context.Context, datasetID uuid.UUID, plan query.Plan, queryText string) ([]GroupHitScored, error) {
	q := plan.Query

	if q.Fusion == nil {
		hits, err := e.Index.SearchGroups(ctx, datasetID, q)
		if err != nil {
			return nil, fmt.Errorf("group search: %w", err)
		}
		return toScoredGroups(hits), nil
	}

	denseQuery := q
	denseQuery.Fusion = nil
	denseQuery.Dense = q.Fusion.DenseLeg.Dense
	denseQuery.Sparse = nil
	denseQuery.Limit = q.Fusion.DenseLeg.Limit

	sparseQuery := q
	sparseQuery.Fusion = nil
	sparseQuery.Dense = nil
	sparseQuery.Sparse = q.Fusion.SparseLeg.Sparse
	sparseQuery.Limit = q.Fusion.SparseLeg.Limit

	denseGroups, err := e.Index.SearchGroups(ctx, datasetID, denseQuery)
	if err != nil {
		return nil, fmt.Errorf("group search (dense leg): %w", err)
	}
	sparseGroups, err := e.Index.SearchGroups(ctx, datasetID, sparseQuery)
	if err != nil {
		return nil, fmt.Errorf("group search (sparse leg): %w", err)
	}

	merged := mergeGroupHits(denseGroups, sparseGroups)
	out := make([]GroupHitScored, 0, len(merged))
	for _, gh := range merged {
		fused, err := FuseHybrid(ctx, e.Reranker, queryText, gh.Hits, plan.Query.GroupSize)
		if err != nil {
			return nil, fmt.Errorf("fusing group %s: %w", gh.GroupID, err)
		}
		out = append(out, GroupHitScored{GroupID: gh.GroupID, Hits: fused})
	}
	return out, nil
}

func toScoredGroups(groups []vectorstore.GroupHit) []GroupHitScored {
	out := make([]GroupHitScored, len(groups))
	for i, g := range groups {
		hits := make([]reranker.ScoredResult, len(g.Hits))
		for j, h := range g.Hits {
			hits[j] = reranker.ScoredResult{Hit: h, RerankerScore: h.Score}
		}
		out[i] = GroupHitScored{GroupID: g.GroupID, Hits: hits}
	}
	return out
}

func mergeGroupHits(dense, sparse []vectorstore.GroupHit) []vectorstore.GroupHit {
	byGroup := make(map[uuid.UUID]*vectorstore.GroupHit)
	order := make([]uuid.UUID, 0, len(dense)+len(sparse))
	add := func(groups []vectorstore.GroupHit) {
		for _, g := range groups {
			existing, ok := byGroup[g.GroupID]
			if !ok {
				gCopy := g
				byGroup[g.GroupID] = &gCopy
				order = append(order, g.GroupID)
				continue
			}
			existing.Hits = append(existing.Hits, g.Hits...)
		}
	}
	add(dense)
	add(sparse)

	out := make([]vectorstore.GroupHit, len(order))
	for i, id := range order {
		out[i] = *byGroup[id]
	}
	return out
}
