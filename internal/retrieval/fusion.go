package retrieval

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/reranker"
	"github.com/trieve/retrieval-core/internal/vectorstore"
)

// FuseHybrid deduplicates a hybrid query's dense+sparse hit union by
// point id (keeping the higher-scored occurrence), then passes the union
// to the cross-encoder reranker (spec 4.5). When no reranker is
// configured, the deduplicated union is returned sorted by descending
// score, ties broken by point id for a deterministic order.
func FuseHybrid(ctx context.Context, rr reranker.Reranker, query string, hits []vectorstore.Hit, pageSize int) ([]reranker.ScoredResult, error) {
	deduped := dedupeByPointID(hits)

	if rr == nil {
		sort.SliceStable(deduped, func(i, j int) bool {
			if deduped[i].Score != deduped[j].Score {
				return deduped[i].Score > deduped[j].Score
			}
			return deduped[i].ID.String() < deduped[j].ID.String()
		})
		out := make([]reranker.ScoredResult, len(deduped))
		for i, h := range deduped {
			out[i] = reranker.ScoredResult{Hit: h, RerankerScore: h.Score}
		}
		if pageSize > 0 && len(out) > pageSize {
			out = out[:pageSize]
		}
		return out, nil
	}

	return rr.Rerank(ctx, query, deduped, pageSize)
}

func dedupeByPointID(hits []vectorstore.Hit) []vectorstore.Hit {
	best := make(map[uuid.UUID]vectorstore.Hit, len(hits))
	order := make([]uuid.UUID, 0, len(hits))
	for _, h := range hits {
		existing, ok := best[h.ID]
		if !ok {
			best[h.ID] = h
			order = append(order, h.ID)
			continue
		}
		if h.Score > existing.Score {
			best[h.ID] = h
		}
	}
	out := make([]vectorstore.Hit, len(order))
	for i, id := range order {
		out[i] = best[id]
	}
	return out
}
