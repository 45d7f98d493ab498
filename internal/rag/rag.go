// Package rag implements the RAG Orchestrator (spec 4.9): composing a
// search query from a chat turn, invoking the retrieval pipeline,
// assembling chat context, streaming the model's answer interleaved with
// citations, and persisting the assistant turn plus an analytics event
// once the stream finishes.
package rag

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/analytics"
	"github.com/trieve/retrieval-core/internal/config"
	"github.com/trieve/retrieval-core/internal/llm"
	"github.com/trieve/retrieval-core/internal/memory"
	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/repository"
	"github.com/trieve/retrieval-core/internal/retrieval"
)

// defaultRewriteSystemPrompt is used when a dataset's MessageToQueryPrompt
// is unset but UseMessageToQueryPrompt is enabled.
const defaultRewriteSystemPrompt = "Rewrite the user's message as a short, standalone search query. Respond with only the query text."

// noResultMessage is the sentinel text emitted when retrieval finds
// nothing (spec 4.9 step 3: "[]||<no-result-message>").
const noResultMessage = "I could not find any relevant information to answer your question."

// Orchestrator wires the retrieval pipeline, LLM, relational store, chat
// memory, and analytics emitter together (spec 4.9).
type Orchestrator struct {
	Retrieval *retrieval.Pipeline
	LLM       llm.LLM
	Messages  repository.MessageRepository
	Memory    *memory.Store
	Analytics *analytics.Emitter
	Hallucination HallucinationScorer

	StreamTimeout time.Duration
}

// HallucinationScorer is an optional external collaborator that scores a
// generated answer against the documents it cites. Datasets without one
// configured get a zero-score stub (spec 4.9 step 7).
type HallucinationScorer interface {
	Score(ctx context.Context, answer string, docs []string) (score float64, detected []string, err error)
}

// Request is one RAG turn (spec 4.9 / 6.1's message-create shape,
// narrowed to what the orchestrator needs).
type Request struct {
	Dataset     model.Dataset
	Config      config.DatasetConfig
	TopicID     uuid.UUID
	UserMessage string

	// QueryOverride, when non-empty, is used verbatim as the search query
	// instead of composing one from the message history (spec step 1).
	QueryOverride string

	SearchType   model.SearchType
	Filters      model.FilterTree
	SortOptions  *model.SortOptions
	GroupOriented bool

	CompletionFirst     bool
	OnlyIncludeDocsUsed bool
	UserID              string

	// ImageURLs is carried from the request; the orchestrator does not
	// pass it to the LLM, so images are not part of the chat context.
	ImageURLs []string
}

// Result is the streaming response handle: QueryID is always returned for
// the TR-QueryID header; Chunks is the final byte stream (citations
// interleaved per spec step 5/6).
type Result struct {
	QueryID uuid.UUID
	Chunks  <-chan StreamChunk
}

// StreamChunk is one unit of the byte stream sent to the HTTP caller.
type StreamChunk struct {
	Bytes []byte
	Err   error
}

// ComposeQuery builds the search query text for a turn (spec step 1):
// an explicit override wins; otherwise, if use_message_to_query_prompt is
// enabled, a non-streaming LLM rewrite is attempted and falls back to the
// raw message on any failure; otherwise the raw message is used as-is.
func (o *Orchestrator) ComposeQuery(ctx context.Context, req Request) string {
	if req.QueryOverride != "" {
		return req.QueryOverride
	}
	if !req.Config.UseMessageToQueryPrompt {
		return req.UserMessage
	}

	systemPrompt := req.Config.MessageToQueryPrompt
	if systemPrompt == "" {
		systemPrompt = defaultRewriteSystemPrompt
	}
	rewritten, err := o.LLM.Generate(ctx, req.UserMessage, llm.GenerateOptions{
		Model:        req.Config.LLMDefaultModel,
		SystemPrompt: systemPrompt,
		Temperature:  0,
		MaxTokens:    128,
	})
	if err != nil || strings.TrimSpace(rewritten) == "" {
		return req.UserMessage
	}
	return rewritten
}

// retrieve runs the shared retrieval pipeline (chunk or group-oriented
// per the request) and returns the score chunks for a chunk search or the
// group results for a group-oriented one; the other slice is nil.
func (o *Orchestrator) retrieve(ctx context.Context, req Request, queryText string, parsed model.ParsedQuery) ([]model.ScoreChunk, []model.GroupScoreChunk, error) {
	limit := req.Config.NRetrievalsToInclude
	searchReq := model.SearchRequest{
		DatasetID:      req.Dataset.ID,
		SearchType:     req.SearchType,
		Query:          model.QueryInput{Text: queryText},
		PageSize:       limit,
		Page:           1,
		Filters:        req.Filters,
		SortOptions:    req.SortOptions,
		HighlightOptions: model.HighlightOptions{Enabled: false},
		Projection:     model.ProjectionFull,
	}

	if req.GroupOriented {
		resp, err := o.Retrieval.SearchGroups(ctx, req.Dataset, req.Config, searchReq, parsed)
		if err != nil {
			return nil, nil, err
		}
		return nil, resp.Results, nil
	}

	resp, err := o.Retrieval.Search(ctx, req.Dataset, req.Config, searchReq, parsed)
	if err != nil {
		return nil, nil, err
	}
	return resp.ScoreChunks, nil, nil
}

// ragType classifies the event per spec 6.4's rag_type enum.
func ragType(req Request) analytics.RagType {
	if req.GroupOriented {
		return analytics.RagGroups
	}
	return analytics.RagAll
}

func topScoreOf(chunks []model.ScoreChunk, groups []model.GroupScoreChunk) float32 {
	var top float32
	for _, c := range chunks {
		if c.Score > top {
			top = c.Score
		}
	}
	for _, g := range groups {
		if len(g.Chunks) > 0 && g.Chunks[0].Score > top {
			top = g.Chunks[0].Score
		}
	}
	return top
}

func flattenGroups(groups []model.GroupScoreChunk) []model.ScoreChunk {
	var out []model.ScoreChunk
	for _, g := range groups {
		out = append(out, g.Chunks...)
	}
	return out
}
