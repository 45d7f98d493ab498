package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/trieve/retrieval-core/internal/vectorstore"
)

// CrossEncoderReranker scores query-document pairs against a remote
// cross-encoder service at baseURL (the process-wide RERANKER_URL in
// cmd/ragd).
type CrossEncoderReranker struct {
	baseURL    string
	batchSize  int
	httpClient *http.Client
}

// CrossEncoderOption is a functional option for configuring CrossEncoderReranker.
type CrossEncoderOption func(*CrossEncoderReranker)

// WithBatchSize overrides DefaultRerankBatchSize, matching the spec's
// note that the cap should be exposed as a tunable rather than fixed.
func WithBatchSize(n int) CrossEncoderOption {
	return func(r *CrossEncoderReranker) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) CrossEncoderOption {
	return func(r *CrossEncoderReranker) {
		r.httpClient = client
	}
}

// NewCrossEncoderReranker creates a client for a remote cross-encoder
// scoring service.
func NewCrossEncoderReranker(baseURL string, opts ...CrossEncoderOption) *CrossEncoderReranker {
	r := &CrossEncoderReranker{
		baseURL:    baseURL,
		batchSize:  DefaultRerankBatchSize,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type crossEncoderRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type crossEncoderResponse struct {
	Scores []float32 `json:"scores"`
}

func contentOf(h vectorstore.Hit) string {
	if v, ok := h.Payload["content"].(string); ok {
		return v
	}
	if v, ok := h.Payload["chunk_html"].(string); ok {
		return v
	}
	return ""
}

// Rerank scores the leading batchSize candidates against the query text
// and sorts them by descending reranker score; any remaining candidates
// beyond the batch are appended in their existing order (spec 4.5).
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, results []vectorstore.Hit, topK int) ([]ScoredResult, error) {
	if len(results) == 0 {
		return nil, nil
	}

	batch := results
	tail := results[:0]
	if len(results) > r.batchSize {
		batch = results[:r.batchSize]
		tail = results[r.batchSize:]
	}

	scores, err := r.scoreBatch(ctx, query, batch)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder reranking failed: %w", err)
	}

	scored := make([]ScoredResult, len(batch))
	for i, hit := range batch {
		scored[i] = ScoredResult{Hit: hit, RerankerScore: scores[i]}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankerScore > scored[j].RerankerScore
	})

	for _, hit := range tail {
		scored = append(scored, ScoredResult{Hit: hit, RerankerScore: hit.Score})
	}

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (r *CrossEncoderReranker) scoreBatch(ctx context.Context, query string, batch []vectorstore.Hit) ([]float32, error) {
	docs := make([]string, len(batch))
	for i, hit := range batch {
		docs[i] = contentOf(hit)
	}

	reqBody, err := json.Marshal(crossEncoderRequest{Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed crossEncoderResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Scores) != len(batch) {
		return nil, fmt.Errorf("reranker returned %d scores for %d documents", len(parsed.Scores), len(batch))
	}
	return parsed.Scores, nil
}

// Ensure CrossEncoderReranker implements Reranker interface.
var _ Reranker = (*CrossEncoderReranker)(nil)
