package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trieve/retrieval-core/internal/query"
	"github.com/trieve/retrieval-core/internal/reranker"
	"github.com/trieve/retrieval-core/internal/vectorstore"
)

// Executed is the Retrieval Executor's output (spec 4.4): a deduplicated
// point list, the per-plan hit counts after deduplication (preserved in
// order, used for autocomplete segmentation), and an optional total page
// count.
type Executed struct {
	Hits       []reranker.ScoredResult
	BatchSizes []int
	TotalPages int
}

// Executor runs planned vector-index queries (spec 4.4) and, for hybrid
// plans, routes the fused union through the cross-encoder (spec 4.5).
type Executor struct {
	Index    vectorstore.VectorIndex
	Reranker reranker.Reranker
}

func NewExecutor(index vectorstore.VectorIndex, rr reranker.Reranker) *Executor {
	return &Executor{Index: index, Reranker: rr}
}

// mmrOversampleFactor inflates the requested limit when MMR is active so
// the diversity reranker has a real candidate pool to select from (spec
// 4.4: "oversample by a planner-chosen factor").
const mmrOversampleFactor = 4

// Run executes every plan (in parallel) against the vector index,
// dedupes/fuses hybrid unions, and returns the combined hit list (a point
// already returned by an earlier plan is dropped from later ones) plus
// each plan's own kept-hit count for callers that need per-segment
// ordering (autocomplete).
func (e *Executor) Run(ctx context.Context, datasetID uuid.UUID, plans []query.Plan, queryText string, getTotalPages bool, mmrRequested bool) (Executed, error) {
	if len(plans) == 0 {
		return Executed{}, nil
	}

	results := make([][]reranker.ScoredResult, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			q := plan.Query
			if mmrRequested && q.Limit > 0 {
				q.Limit *= mmrOversampleFactor
				q.WithVectors = true
			}

			if q.Fusion != nil {
				union, err := e.runFusionLegs(gctx, datasetID, q)
				if err != nil {
					return err
				}
				fused, err := FuseHybrid(gctx, e.Reranker, queryText, union, plan.Query.Limit)
				if err != nil {
					return err
				}
				results[i] = fused
				return nil
			}

			hits, err := e.Index.Search(gctx, datasetID, q)
			if err != nil {
				return fmt.Errorf("plan %d: %w", i, err)
			}
			out := make([]reranker.ScoredResult, len(hits))
			for j, h := range hits {
				out[j] = reranker.ScoredResult{Hit: h, RerankerScore: h.Score}
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Executed{}, err
	}

	exec := Executed{}
	seen := make(map[uuid.UUID]struct{})
	for _, r := range results {
		kept := 0
		for _, h := range r {
			if _, dup := seen[h.ID]; dup {
				continue
			}
			seen[h.ID] = struct{}{}
			exec.Hits = append(exec.Hits, h)
			kept++
		}
		exec.BatchSizes = append(exec.BatchSizes, kept)
	}

	if getTotalPages && len(plans) > 0 {
		count, err := e.Index.Count(ctx, datasetID, plans[0].Query.Filter)
		if err == nil && plans[0].Query.Limit > 0 {
			exec.TotalPages = (count + plans[0].Query.Limit - 1) / plans[0].Query.Limit
		}
	}

	return exec, nil
}

// runFusionLegs issues the dense and sparse prefetch legs of a hybrid
// query in parallel and returns the unioned, non-deduplicated hit list
// for FuseHybrid to dedupe/cross-encode.
func (e *Executor) runFusionLegs(ctx context.Context, datasetID uuid.UUID, q vectorstore.Query) ([]vectorstore.Hit, error) {
	var dense, sparse []vectorstore.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		denseQuery := q
		denseQuery.Fusion = nil
		denseQuery.Dense = q.Fusion.DenseLeg.Dense
		denseQuery.Sparse = nil
		denseQuery.Limit = q.Fusion.DenseLeg.Limit
		dense, err = e.Index.Search(gctx, datasetID, denseQuery)
		return err
	})
	g.Go(func() error {
		var err error
		sparseQuery := q
		sparseQuery.Fusion = nil
		sparseQuery.Dense = nil
		sparseQuery.Sparse = q.Fusion.SparseLeg.Sparse
		sparseQuery.Limit = q.Fusion.SparseLeg.Limit
		sparse, err = e.Index.Search(gctx, datasetID, sparseQuery)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(dense, sparse...), nil
}
