package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/vectorstore"
)

func hitWithContent(content string, score float32) vectorstore.Hit {
	return vectorstore.Hit{ID: uuid.New(), Score: score, Payload: map[string]any{"content": content}}
}

func TestContentOf_PrefersContentThenChunkHTML(t *testing.T) {
	if got := contentOf(vectorstore.Hit{Payload: map[string]any{"content": "a"}}); got != "a" {
		t.Errorf("expected content field, got %q", got)
	}
	if got := contentOf(vectorstore.Hit{Payload: map[string]any{"chunk_html": "b"}}); got != "b" {
		t.Errorf("expected chunk_html fallback, got %q", got)
	}
	if got := contentOf(vectorstore.Hit{Payload: map[string]any{}}); got != "" {
		t.Errorf("expected empty string for no content fields, got %q", got)
	}
}

func TestRerank_EmptyResultsIsNoop(t *testing.T) {
	r := NewCrossEncoderReranker("http://unused")
	out, err := r.Rerank(context.Background(), "q", nil, 10)
	if err != nil || out != nil {
		t.Errorf("expected nil,nil for empty input, got %+v, %v", out, err)
	}
}

func TestRerank_SortsByDescendingScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body crossEncoderRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		scores := make([]float32, len(body.Documents))
		for i, d := range body.Documents {
			if d == "best" {
				scores[i] = 0.9
			} else {
				scores[i] = 0.1
			}
		}
		json.NewEncoder(w).Encode(crossEncoderResponse{Scores: scores})
	}))
	defer srv.Close()

	r := NewCrossEncoderReranker(srv.URL)
	hits := []vectorstore.Hit{hitWithContent("worst", 0.5), hitWithContent("best", 0.4)}

	out, err := r.Rerank(context.Background(), "q", hits, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].RerankerScore != 0.9 {
		t.Fatalf("expected the higher-scored doc first, got %+v", out)
	}
}

func TestRerank_RespectsBatchSizeAndAppendsTail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body crossEncoderRequest
		json.NewDecoder(req.Body).Decode(&body)
		scores := make([]float32, len(body.Documents))
		for i := range scores {
			scores[i] = float32(i)
		}
		json.NewEncoder(w).Encode(crossEncoderResponse{Scores: scores})
	}))
	defer srv.Close()

	r := NewCrossEncoderReranker(srv.URL, WithBatchSize(2))
	hits := []vectorstore.Hit{hitWithContent("a", 0.1), hitWithContent("b", 0.2), hitWithContent("c", 0.3)}

	out, err := r.Rerank(context.Background(), "q", hits, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected all 3 hits present (2 scored + 1 tail), got %d", len(out))
	}
	// The tail candidate beyond the batch keeps its original vectorstore score.
	if out[2].RerankerScore != 0.3 {
		t.Errorf("expected tail candidate to carry its original score, got %+v", out[2])
	}
}

func TestRerank_RespectsTopK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body crossEncoderRequest
		json.NewDecoder(req.Body).Decode(&body)
		scores := make([]float32, len(body.Documents))
		json.NewEncoder(w).Encode(crossEncoderResponse{Scores: scores})
	}))
	defer srv.Close()

	r := NewCrossEncoderReranker(srv.URL)
	hits := []vectorstore.Hit{hitWithContent("a", 0.1), hitWithContent("b", 0.2)}

	out, err := r.Rerank(context.Background(), "q", hits, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("expected topK=1 to cap output, got %d", len(out))
	}
}

func TestRerank_NonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewCrossEncoderReranker(srv.URL)
	_, err := r.Rerank(context.Background(), "q", []vectorstore.Hit{hitWithContent("a", 0.1)}, 10)
	if err == nil {
		t.Error("expected an error for a non-200 response")
	}
}

func TestRerank_MismatchedScoreCountErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(crossEncoderResponse{Scores: []float32{0.1}})
	}))
	defer srv.Close()

	r := NewCrossEncoderReranker(srv.URL)
	_, err := r.Rerank(context.Background(), "q", []vectorstore.Hit{hitWithContent("a", 0.1), hitWithContent("b", 0.2)}, 10)
	if err == nil {
		t.Error("expected an error when the reranker returns a mismatched score count")
	}
}
