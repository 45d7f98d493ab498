package query

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trieve/retrieval-core/internal/apperr"
	"github.com/trieve/retrieval-core/internal/config"
	"github.com/trieve/retrieval-core/internal/filter"
	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/vectorstore"
)

// Plan is one vector-index query produced by the planner, annotated with
// the request-level concerns the Retrieval Executor needs but that don't
// belong on vectorstore.Query itself.
type Plan struct {
	Query          vectorstore.Query
	Label          string // "strict" | "extend" | "" for non-autocomplete
	ApplyThreshold bool   // false when a late cross-encoder rerank will apply it instead
}

// Planner turns a parsed search request into one or more vector-index
// queries (spec 4.3).
type Planner struct {
	Vectors  *Builder
	Filters  *filter.Compiler
	Prefetch int // default prefetch limit for rerank-by inner queries
}

func NewPlanner(vectors *Builder, filters *filter.Compiler, prefetchLimit int) *Planner {
	if prefetchLimit <= 0 {
		prefetchLimit = 1000
	}
	return &Planner{Vectors: vectors, Filters: filters, Prefetch: prefetchLimit}
}

// Plan builds the list of vector-index queries for a single (non-group)
// search request.
func (p *Planner) Plan(ctx context.Context, dataset model.Dataset, cfg config.DatasetConfig, req model.SearchRequest, parsed model.ParsedQuery) ([]Plan, error) {
	req.Query.WeightedText = normalizeQueries(req.Query, parsed)
	filters := withGroupScope(req.Filters, req.GroupID)
	tree, err := p.Filters.Compile(ctx, dataset.ID, filters, parsed, cfg.QdrantOnly)
	if err != nil {
		return nil, err
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = cfg.NRetrievalsToInclude
	}
	offset := pageOffset(req.Page, limit)

	rerankBy := model.RerankNone
	if req.SortOptions != nil {
		rerankBy = req.SortOptions.RerankBy
	}
	applyThreshold := rerankBy != model.RerankCrossEncoder
	threshold := thresholdPtr(req.ScoreThreshold)

	switch req.SearchType {
	case model.SearchSemantic:
		vec, err := p.Vectors.BuildSemantic(ctx, cfg, req.Query.WeightedText)
		if err != nil {
			return nil, err
		}
		q := baseQuery(vec, tree, limit, offset, threshold, applyThreshold)
		return p.withRerankBy(ctx, cfg, req, rerankBy, []Plan{{Query: q, ApplyThreshold: applyThreshold}})

	case model.SearchFulltext:
		vec, err := p.Vectors.BuildFulltext(ctx, cfg, req.Query.WeightedText, 0)
		if err != nil {
			return nil, err
		}
		q := baseQuery(vec, tree, limit, offset, threshold, applyThreshold)
		return p.withRerankBy(ctx, cfg, req, rerankBy, []Plan{{Query: q, ApplyThreshold: applyThreshold}})

	case model.SearchBM25:
		vec, err := p.Vectors.BuildBM25(ctx, cfg, req.Query.WeightedText)
		if err != nil {
			return nil, err
		}
		q := baseQuery(vec, tree, limit, offset, threshold, applyThreshold)
		return p.withRerankBy(ctx, cfg, req, rerankBy, []Plan{{Query: q, ApplyThreshold: applyThreshold}})

	case model.SearchHybrid:
		var dense, sparse VectorPayload
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			dense, err = p.Vectors.BuildSemantic(gctx, cfg, req.Query.WeightedText)
			return err
		})
		g.Go(func() error {
			var err error
			sparse, err = p.Vectors.BuildFulltext(gctx, cfg, req.Query.WeightedText, 0)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		q := vectorstore.Query{
			Filter:      tree,
			Limit:       limit,
			Offset:      offset,
			WithVectors: req.SortOptions != nil && req.SortOptions.MMR != nil && req.SortOptions.MMR.UseMMR,
			Fusion: &vectorstore.FusionSpec{
				Method:    vectorstore.FusionRRF,
				DenseLeg:  vectorstore.PrefetchQuery{Dense: dense.Dense, Limit: p.Prefetch},
				SparseLeg: vectorstore.PrefetchQuery{Sparse: sparse.Sparse, Limit: p.Prefetch},
			},
		}
		// Threshold filtering runs after cross-encoder scoring for hybrid.
		return []Plan{{Query: q, ApplyThreshold: false}}, nil

	default:
		return nil, apperr.BadRequest("unrecognized search type %v", req.SearchType)
	}
}

// withRerankBy wraps a single-method query with an inner prefetch when
// rerank_by names another retrieval method (spec 4.3).
func (p *Planner) withRerankBy(ctx context.Context, cfg config.DatasetConfig, req model.SearchRequest, rerankBy model.RerankType, plans []Plan) ([]Plan, error) {
	if rerankBy == model.RerankNone || rerankBy == model.RerankCrossEncoder {
		return plans, nil
	}

	var inner VectorPayload
	var err error
	switch rerankBy {
	case model.RerankSemantic:
		inner, err = p.Vectors.BuildSemantic(ctx, cfg, req.Query.WeightedText)
	case model.RerankFulltext:
		inner, err = p.Vectors.BuildFulltext(ctx, cfg, req.Query.WeightedText, 0)
	case model.RerankBM25:
		inner, err = p.Vectors.BuildBM25(ctx, cfg, req.Query.WeightedText)
	default:
		return plans, nil
	}
	if err != nil {
		return nil, err
	}

	for i := range plans {
		plans[i].Query.Prefetch = &vectorstore.PrefetchQuery{
			Dense:  inner.Dense,
			Sparse: inner.Sparse,
			Limit:  p.Prefetch,
		}
	}
	return plans, nil
}

// PlanAutocomplete builds the strict and (optionally) extended query
// segments for autocomplete search (spec 4.3): the strict segment adds a
// substring-match(content, query) must clause; the extended segment
// omits it. Each segment is reranked independently downstream.
func (p *Planner) PlanAutocomplete(ctx context.Context, dataset model.Dataset, cfg config.DatasetConfig, req model.SearchRequest, parsed model.ParsedQuery, extend bool) ([]Plan, error) {
	req.Query.WeightedText = normalizeQueries(req.Query, parsed)
	filters := withGroupScope(req.Filters, req.GroupID)
	strictTree, err := p.Filters.Compile(ctx, dataset.ID, filters, parsed, cfg.QdrantOnly)
	if err != nil {
		return nil, err
	}
	strictTree.Must = append(strictTree.Must, vectorstore.Condition{
		Kind:  vectorstore.CondMatchText,
		Field: "content",
		Text:  parsed.Text,
	})

	limit := req.PageSize
	if limit <= 0 {
		limit = cfg.NRetrievalsToInclude
	}
	threshold := thresholdPtr(req.ScoreThreshold)

	var vec VectorPayload
	switch req.SearchType {
	case model.SearchFulltext:
		vec, err = p.Vectors.BuildFulltext(ctx, cfg, req.Query.WeightedText, 0)
	case model.SearchBM25:
		vec, err = p.Vectors.BuildBM25(ctx, cfg, req.Query.WeightedText)
	default:
		vec, err = p.Vectors.BuildSemantic(ctx, cfg, req.Query.WeightedText)
	}
	if err != nil {
		return nil, err
	}

	plans := []Plan{{
		Query: baseQuery(vec, strictTree, limit, 0, threshold, true),
		Label: "strict",
	}}

	if extend {
		extendedTree, err := p.Filters.Compile(ctx, dataset.ID, filters, parsed, cfg.QdrantOnly)
		if err != nil {
			return nil, err
		}
		plans = append(plans, Plan{
			Query: baseQuery(vec, extendedTree, limit, 0, threshold, true),
			Label: "extend",
		})
	}
	return plans, nil
}

func baseQuery(vec VectorPayload, tree *vectorstore.Filter, limit, offset int, threshold *float32, applyThreshold bool) vectorstore.Query {
	q := vectorstore.Query{
		Dense:  vec.Dense,
		Sparse: vec.Sparse,
		Filter: tree,
		Limit:  limit,
		Offset: offset,
	}
	if applyThreshold {
		q.ScoreThreshold = threshold
	}
	return q
}

// normalizeQueries collapses a request's query input down to the
// weighted-query slice the Vector Builder expects: an explicit
// multi-query list is used as-is; otherwise the single parsed query text
// becomes a one-element list with weight 1.
func normalizeQueries(qi model.QueryInput, parsed model.ParsedQuery) []model.WeightedQuery {
	if len(qi.WeightedText) > 0 {
		return qi.WeightedText
	}
	return []model.WeightedQuery{{Text: parsed.Text, Weight: 1}}
}

// withGroupScope adds a group_ids == group must condition for
// group-scoped search (spec 4.3) without mutating the caller's filter tree.
func withGroupScope(tree model.FilterTree, groupID *uuid.UUID) model.FilterTree {
	if groupID == nil {
		return tree
	}
	out := tree
	out.Must = append(append([]model.FilterCondition{}, tree.Must...), model.FilterCondition{
		Type:      model.ConditionField,
		Field:     "group_ids",
		Match:     model.MatchAny,
		AnyValues: []any{groupID.String()},
	})
	return out
}

func thresholdPtr(v float32) *float32 {
	if v == 0 {
		return nil
	}
	return &v
}

// pageOffset converts a 1-indexed page (page 0 treated as page 1) into
// an offset (spec 4.4).
func pageOffset(page, limit int) int {
	if page <= 1 {
		return 0
	}
	return (page - 1) * limit
}
