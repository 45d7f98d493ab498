package retrieval

import (
	"sort"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/model"
)

// PostScoreGroups applies the same fixed-order rerank pipeline as
// PostScore, but over each group's representative top-1 chunk (spec
// 4.8): the group-level score and embedding used for every bias,
// including MMR's similarity term, come from the highest-scored member
// chunk. Re-scoring the representative re-sorts the groups; member
// chunks within a group keep their own pre-existing order.
func PostScoreGroups(groups []model.GroupScoreChunk, embeddingsByPoint map[uuid.UUID][]float32, opts *model.SortOptions) []model.GroupScoreChunk {
	if opts == nil || len(groups) == 0 {
		return groups
	}

	reps := make([]model.ScoreChunk, 0, len(groups))
	idxByPoint := make(map[uuid.UUID]int, len(groups))
	for i, g := range groups {
		if len(g.Chunks) == 0 {
			continue
		}
		top := g.Chunks[0]
		idxByPoint[top.Chunk.PointID] = i
		reps = append(reps, top)
	}

	scoredReps := PostScore(reps, embeddingsByPoint, opts)

	scoreByGroupIdx := make(map[int]float32, len(scoredReps))
	for _, rep := range scoredReps {
		if i, ok := idxByPoint[rep.Chunk.PointID]; ok {
			scoreByGroupIdx[i] = rep.Score
		}
	}

	out := make([]model.GroupScoreChunk, len(groups))
	copy(out, groups)
	for i, score := range scoreByGroupIdx {
		if len(out[i].Chunks) > 0 {
			out[i].Chunks[0].Score = score
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return topScore(out[i]) > topScore(out[j])
	})
	return out
}

func topScore(g model.GroupScoreChunk) float32 {
	if len(g.Chunks) == 0 {
		return 0
	}
	return g.Chunks[0].Score
}
