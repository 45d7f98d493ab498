package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// BM25SparseEmbedder produces term-frequency sparse vectors suitable for
// the sparse leg of a hybrid search (spec 4.2, 4.4). Term strings are
// hashed into a fixed-width index space rather than kept in a growable
// vocabulary table, so the vector space is stable across calls without a
// shared dictionary service. There is no learned-sparse (SPLADE) model in
// this stack; BM25-style term weighting is what the dataset config's
// bm25_* fields (spec 6.2) describe, so that is what this implements.
type BM25SparseEmbedder struct {
	b      float64
	k1     float64
	avgLen float64
}

// NewBM25SparseEmbedder builds a sparse embedder from the dataset's BM25
// tuning parameters. avgLen is the corpus's running average document
// length in terms; callers refresh it from dataset config periodically.
func NewBM25SparseEmbedder(k1, b, avgLen float64) *BM25SparseEmbedder {
	if k1 <= 0 {
		k1 = 1.2
	}
	if b <= 0 {
		b = 0.75
	}
	if avgLen <= 0 {
		avgLen = 256
	}
	return &BM25SparseEmbedder{b: b, k1: k1, avgLen: avgLen}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func termIndex(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return h.Sum32()
}

// EmbedSparse builds a BM25-weighted sparse vector for a single document.
// Term saturation uses the classic BM25 length-normalized term-frequency
// formula; idf is deliberately omitted here since it requires corpus-wide
// document-frequency statistics this collaborator does not own. Callers
// that need a full BM25 score (rather than a per-document weight vector)
// combine this vector with idf terms stored on the index side.
func (e *BM25SparseEmbedder) EmbedSparse(ctx context.Context, text string) ([]uint32, []float32, error) {
	terms := tokenize(text)
	if len(terms) == 0 {
		return nil, nil, nil
	}

	tf := make(map[uint32]int, len(terms))
	for _, t := range terms {
		tf[termIndex(t)]++
	}

	docLen := float64(len(terms))
	norm := 1 - e.b + e.b*(docLen/e.avgLen)

	indices := make([]uint32, 0, len(tf))
	values := make([]float32, 0, len(tf))
	for idx, freq := range tf {
		f := float64(freq)
		weight := (f * (e.k1 + 1)) / (f + e.k1*norm)
		indices = append(indices, idx)
		values = append(values, float32(weight))
	}
	return indices, values, nil
}

// EmbedSparseBatch embeds each text independently; BM25 weighting needs
// no cross-request network call, so this runs synchronously rather than
// fanning out like the dense embedder's HTTP-bound EmbedBatch.
func (e *BM25SparseEmbedder) EmbedSparseBatch(ctx context.Context, texts []string) ([][]uint32, [][]float32, error) {
	indices := make([][]uint32, len(texts))
	values := make([][]float32, len(texts))
	for i, t := range texts {
		idx, val, err := e.EmbedSparse(ctx, t)
		if err != nil {
			return nil, nil, err
		}
		indices[i] = idx
		values[i] = val
	}
	return indices, values, nil
}

// magnitude is retained for callers that want to L2-normalize a sparse
// vector before upserting it.
func magnitude(values []float32) float64 {
	var sum float64
	for _, v := range values {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

var _ SparseEmbedder = (*BM25SparseEmbedder)(nil)
