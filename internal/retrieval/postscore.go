// Package retrieval runs planned vector-index queries and turns the
// resulting hits into search responses: the Retrieval Executor (spec
// 4.4), Hybrid Fusion + Cross-Encoder (4.5), Post-Scorer (4.6), Chunk
// Hydrator (4.7), and Group Search (4.8).
package retrieval

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/model"
)

// scored is the internal working type the post-scorer mutates: a chunk,
// its current score, and (when available) the dense embedding used for
// MMR similarity, keyed by point id to match back to vector-index hits.
type scored struct {
	chunk     model.Chunk
	score     float32
	pointID   uuid.UUID
	embedding []float32
}

// PostScore applies the fixed-order rerank pipeline on scored chunks
// (spec 4.6): weight bias, recency bias, location bias, tag weights, then
// MMR, each only when enabled by sort options, followed by a final
// descending sort. embeddingsByPoint supplies the embeddings MMR needs, keyed by
// point id; chunks missing an embedding leave MMR's fallback path intact
// (scores untouched) exactly as rerank_chunks/apply_mmr behave upstream.
func PostScore(chunks []model.ScoreChunk, embeddingsByPoint map[uuid.UUID][]float32, opts *model.SortOptions) []model.ScoreChunk {
	if opts == nil {
		return chunks
	}

	highlights := make(map[uuid.UUID][]model.Highlight, len(chunks))
	items := make([]scored, len(chunks))
	for i, c := range chunks {
		items[i] = scored{chunk: c.Chunk, score: c.Score, pointID: c.Chunk.PointID, embedding: embeddingsByPoint[c.Chunk.PointID]}
		highlights[c.Chunk.PointID] = c.Highlights
	}

	if opts.UseWeights {
		applyWeights(items)
	}
	if opts.RecencyBias > 0 {
		applyRecency(items, opts.RecencyBias)
	}
	if opts.LocationBias != nil && opts.LocationBias.Bias > 0 {
		applyLocation(items, opts.LocationBias.Location, opts.LocationBias.Bias)
	}
	if len(opts.TagWeights) > 0 {
		applyTagWeights(items, opts.TagWeights)
	}
	if opts.MMR != nil && opts.MMR.UseMMR && opts.MMR.MMRLambda > 0 {
		applyMMRToScored(items, opts.MMR.MMRLambda, len(items))
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })

	out := make([]model.ScoreChunk, len(items))
	for i, it := range items {
		out[i] = model.ScoreChunk{Chunk: it.chunk, Score: it.score, Highlights: highlights[it.pointID]}
	}
	return out
}

// applyWeights multiplies score by the chunk's weight, treating weight 0
// as the identity (1.0), matching rerank_chunks's weight branch.
func applyWeights(items []scored) {
	for i := range items {
		w := items[i].chunk.Weight
		if w == 0 {
			w = 1.0
		}
		items[i].score *= float32(w)
	}
}

// applyRecency min-max normalizes both score and chunk age, then blends
// them. The exact blend (normalized_score * (1/bias) + bias*normalized_recency)
// is taken verbatim from rerank_chunks: the second term rewards recency,
// the first dampens as bias rises (1/bias shrinks the score's own
// contribution), reproducing the source's somewhat asymmetric formula
// rather than a more "balanced" blend.
func applyRecency(items []scored, bias float32) {
	var minTS, maxTS *int64
	for _, it := range items {
		if it.chunk.TimeStamp == nil {
			continue
		}
		ts := it.chunk.TimeStamp.Unix()
		if minTS == nil || ts < *minTS {
			minTS = &ts
		}
		if maxTS == nil || ts > *maxTS {
			maxTS = &ts
		}
	}
	if minTS == nil || maxTS == nil {
		return
	}

	minScore, maxScore := minMaxScore(items)
	scoreRange := maxScore - minScore
	if scoreRange == 0 {
		scoreRange = 1
	}
	tsRange := float32(*maxTS - *minTS)
	if tsRange == 0 {
		tsRange = 1
	}

	now := time.Now().Unix()
	for i := range items {
		if items[i].chunk.TimeStamp == nil {
			continue
		}
		age := float32(now - items[i].chunk.TimeStamp.Unix())
		minAge := float32(now - *maxTS) // most recent chunk has smallest age
		normalizedAgeDistance := (age - minAge) / tsRange
		normalizedScore := (items[i].score - minScore) / scoreRange
		items[i].score = normalizedScore*(1.0/bias) + bias*(1.0-normalizedAgeDistance)
	}
}

// applyLocation min-max normalizes haversine distance and blends it with
// the normalized score, symmetric around location_bias (verbatim from
// rerank_chunks's location branch).
func applyLocation(items []scored, query model.GeoPoint, bias float64) {
	var distances []float64
	hasLocation := make([]bool, len(items))
	dist := make([]float64, len(items))
	for i, it := range items {
		if it.chunk.Location == nil {
			continue
		}
		d := query.HaversineDistanceKm(*it.chunk.Location)
		dist[i] = d
		hasLocation[i] = true
		distances = append(distances, d)
	}
	if len(distances) == 0 {
		return
	}
	minDist, maxDist := distances[0], distances[0]
	for _, d := range distances {
		if d < minDist {
			minDist = d
		}
		if d > maxDist {
			maxDist = d
		}
	}
	distRange := maxDist - minDist
	if distRange == 0 {
		distRange = 1
	}

	minScore, maxScore := minMaxScore(items)
	scoreRange := maxScore - minScore
	if scoreRange == 0 {
		scoreRange = 1
	}

	for i := range items {
		d := 0.0
		if hasLocation[i] {
			d = dist[i]
		}
		normalizedDistance := (d - minDist) / distRange
		normalizedScore := (float64(items[i].score) - float64(minScore)) / float64(scoreRange)
		items[i].score = float32(normalizedScore*(1.0-bias) + bias*(1.0-normalizedDistance))
	}
}

// applyTagWeights multiplies score by the product of every configured
// tag's weight present on the chunk's tag set (rerank_chunks's tag_score
// accumulator, seeded at 1.0).
func applyTagWeights(items []scored, tagWeights map[string]float64) {
	for i := range items {
		tagScore := 1.0
		tagSet := make(map[string]struct{}, len(items[i].chunk.TagSet))
		for _, t := range items[i].chunk.TagSet {
			tagSet[t] = struct{}{}
		}
		for tag, weight := range tagWeights {
			if _, ok := tagSet[tag]; ok {
				tagScore *= weight
			}
		}
		items[i].score *= float32(tagScore)
	}
}

func minMaxScore(items []scored) (float32, float32) {
	if len(items) == 0 {
		return 0, 1
	}
	min, max := items[0].score, items[0].score
	for _, it := range items {
		if it.score < min {
			min = it.score
		}
		if it.score > max {
			max = it.score
		}
	}
	return min, max
}

// applyMMRToScored runs Maximal Marginal Relevance over items and writes
// the resulting scores back by point id; point ids not covered (because
// apply_mmr bailed out on a missing embedding) are left with their
// pre-MMR score, matching rerank_chunks's "failed to find search result"
// fallback.
func applyMMRToScored(items []scored, lambda float64, maxResults int) {
	selected := applyMMR(items, float32(lambda), maxResults)
	byPoint := make(map[uuid.UUID]float32, len(selected))
	for _, s := range selected {
		byPoint[s.pointID] = s.score
	}
	for i := range items {
		if s, ok := byPoint[items[i].pointID]; ok {
			items[i].score = s
		}
	}
}

// applyMMR is the generic Maximal Marginal Relevance diversity reranker,
// grounded verbatim on apply_mmr/cosine_similarity: it bails out to an
// empty result set if any candidate lacks an embedding, otherwise greedily
// selects the best mmr_score = lambda * score * (1 - (1-lambda) *
// max_similarity_to_selected) candidate each round, mutating scores
// in place, and returns candidates in selection order (NOT re-sorted).
func applyMMR(docs []scored, lambda float32, maxResults int) []scored {
	if len(docs) == 0 {
		return nil
	}
	for _, d := range docs {
		if d.embedding == nil {
			return nil
		}
	}

	selected := make([]int, 0, maxResults)
	remaining := make([]int, len(docs))
	for i := range docs {
		remaining[i] = i
	}

	firstPos, firstIdx := 0, remaining[0]
	for pos, idx := range remaining {
		if docs[idx].score > docs[firstIdx].score {
			firstPos, firstIdx = pos, idx
		}
	}
	selected = append(selected, firstIdx)
	remaining = append(remaining[:firstPos], remaining[firstPos+1:]...)

	for len(selected) < maxResults && len(remaining) > 0 {
		bestScore := float32(math.Inf(-1))
		bestPos := 0

		for pos, idx := range remaining {
			maxSim := float32(math.Inf(-1))
			for _, selIdx := range selected {
				sim := cosineSimilarity(docs[idx].embedding, docs[selIdx].embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := lambda * docs[idx].score * (1.0 - (1.0-lambda)*maxSim)
			docs[idx].score = mmrScore

			if mmrScore > bestScore {
				bestScore = mmrScore
				bestPos = pos
			}
		}

		selected = append(selected, remaining[bestPos])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	out := make([]scored, len(selected))
	for i, idx := range selected {
		out[i] = docs[idx]
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
