package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/reranker"
	"github.com/trieve/retrieval-core/internal/repository"
)

// Hydrator turns ranked vector-index hits into hydrated ScoreChunks (spec
// 4.7): full/slim/content-only modes round-trip to the relational store;
// qdrant-only mode synthesizes chunk records from the search payload
// alone. It also runs highlight extraction when requested.
type Hydrator struct {
	Chunks repository.ChunkRepository
	Groups repository.GroupRepository
}

func NewHydrator(chunks repository.ChunkRepository, groups repository.GroupRepository) *Hydrator {
	return &Hydrator{Chunks: chunks, Groups: groups}
}

// Hydrate resolves a ranked hit list into score chunks. For qdrant-only
// projection no relational round-trip happens; otherwise chunk records
// are fetched by point id in one batch call. Highlights, when enabled,
// are computed per result against queryText (single-query only, per spec
// 4.7) under ExtractHighlights' fixed timeout.
func (h *Hydrator) Hydrate(ctx context.Context, datasetID uuid.UUID, hits []reranker.ScoredResult, projection model.ChunkProjection, queryText string, hOpts model.HighlightOptions) ([]model.ScoreChunk, map[uuid.UUID][]float32, error) {
	if len(hits) == 0 {
		return nil, nil, nil
	}

	embeddings := make(map[uuid.UUID][]float32, len(hits))
	scoreByPoint := make(map[uuid.UUID]float32, len(hits))
	order := make([]uuid.UUID, len(hits))
	for i, hit := range hits {
		order[i] = hit.ID
		scoreByPoint[hit.ID] = hit.RerankerScore
		if hit.Embedding != nil {
			embeddings[hit.ID] = hit.Embedding
		}
	}

	var chunks []model.Chunk
	var err error
	if projection == model.ProjectionQdrantOnly {
		chunks = synthesizeFromPayloads(hits)
	} else {
		pointIDs := make([]uuid.UUID, len(order))
		copy(pointIDs, order)
		chunks, err = h.Chunks.GetByPointIDs(ctx, datasetID, pointIDs, projection)
		if err != nil {
			return nil, nil, fmt.Errorf("hydrating chunks: %w", err)
		}
	}

	byPoint := make(map[uuid.UUID]model.Chunk, len(chunks))
	for _, c := range chunks {
		byPoint[c.PointID] = c
	}

	out := make([]model.ScoreChunk, 0, len(order))
	for _, pointID := range order {
		c, ok := byPoint[pointID]
		if !ok {
			continue
		}
		sc := model.ScoreChunk{Chunk: c, Score: scoreByPoint[pointID]}
		if hOpts.Enabled && projection != model.ProjectionSlim && queryText != "" {
			sc.Highlights = ExtractHighlights(c.HTML, queryText, hOpts)
		}
		out = append(out, sc)
	}
	return out, embeddings, nil
}

// synthesizeFromPayloads builds chunk records directly from vector-index
// payloads (qdrant-only projection), requiring the indexer to have stored
// the fields a chunk record needs.
func synthesizeFromPayloads(hits []reranker.ScoredResult) []model.Chunk {
	out := make([]model.Chunk, 0, len(hits))
	for _, hit := range hits {
		p := hit.Payload
		c := model.Chunk{PointID: hit.ID}
		if v, ok := p["id"].(string); ok {
			if id, err := uuid.Parse(v); err == nil {
				c.ID = id
			}
		}
		if v, ok := p["dataset_id"].(string); ok {
			if id, err := uuid.Parse(v); err == nil {
				c.DatasetID = id
			}
		}
		if v, ok := p["tracking_id"].(string); ok {
			c.TrackingID = v
		}
		if v, ok := p["content"].(string); ok {
			c.HTML = v
		} else if v, ok := p["chunk_html"].(string); ok {
			c.HTML = v
		}
		if v, ok := p["link"].(string); ok {
			c.Link = v
		}
		if v, ok := p["metadata"].(map[string]any); ok {
			c.Metadata = v
		}
		if v, ok := p["tag_set"].([]any); ok {
			tags := make([]string, 0, len(v))
			for _, t := range v {
				if s, ok := t.(string); ok {
					tags = append(tags, s)
				}
			}
			c.TagSet = tags
		}
		if v, ok := p["weight"].(float64); ok {
			c.Weight = v
		}
		if v, ok := p["time_stamp"].(float64); ok {
			ts := time.Unix(int64(v), 0).UTC()
			c.TimeStamp = &ts
		}
		out = append(out, c)
	}
	return out
}

// GroupHydrate resolves a group-aware search result into GroupScoreChunks
// (spec 4.8): all referenced chunks are hydrated in one lookup, the group
// records in another, and each group's member chunks are sorted by
// descending score.
func (h *Hydrator) GroupHydrate(ctx context.Context, datasetID uuid.UUID, groupHits []GroupHitScored, projection model.ChunkProjection, queryText string, hOpts model.HighlightOptions) ([]model.GroupScoreChunk, error) {
	if len(groupHits) == 0 {
		return nil, nil
	}

	var allPoints []uuid.UUID
	var groupIDs []uuid.UUID
	for _, gh := range groupHits {
		groupIDs = append(groupIDs, gh.GroupID)
		for _, hit := range gh.Hits {
			allPoints = append(allPoints, hit.ID)
		}
	}

	var chunks []model.Chunk
	var err error
	if projection == model.ProjectionQdrantOnly {
		var flat []reranker.ScoredResult
		for _, gh := range groupHits {
			flat = append(flat, gh.Hits...)
		}
		chunks = synthesizeFromPayloads(flat)
	} else {
		chunks, err = h.Chunks.GetByPointIDs(ctx, datasetID, allPoints, projection)
		if err != nil {
			return nil, fmt.Errorf("hydrating group chunks: %w", err)
		}
	}
	byPoint := make(map[uuid.UUID]model.Chunk, len(chunks))
	for _, c := range chunks {
		byPoint[c.PointID] = c
	}

	groups, err := h.Groups.GetByIDs(ctx, datasetID, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("hydrating groups: %w", err)
	}
	groupByID := make(map[uuid.UUID]model.ChunkGroup, len(groups))
	for _, g := range groups {
		groupByID[g.ID] = g
	}

	out := make([]model.GroupScoreChunk, 0, len(groupHits))
	for _, gh := range groupHits {
		g := groupByID[gh.GroupID]
		var members []model.ScoreChunk
		for _, hit := range gh.Hits {
			c, ok := byPoint[hit.ID]
			if !ok {
				continue
			}
			sc := model.ScoreChunk{Chunk: c, Score: hit.RerankerScore}
			if hOpts.Enabled && projection != model.ProjectionSlim && queryText != "" {
				sc.Highlights = ExtractHighlights(c.HTML, queryText, hOpts)
			}
			members = append(members, sc)
		}
		sortScoreChunksDesc(members)
		out = append(out, model.GroupScoreChunk{Group: g, Chunks: members, FileID: g.FileID})
	}
	return out, nil
}

// GroupHitScored is a group's member hits after hybrid fusion/cross-encoder
// scoring, mirroring vectorstore.GroupHit but carrying reranker scores.
type GroupHitScored struct {
	GroupID uuid.UUID
	Hits    []reranker.ScoredResult
}

func sortScoreChunksDesc(chunks []model.ScoreChunk) {
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
}
