package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/analytics"
	"github.com/trieve/retrieval-core/internal/apperr"
	"github.com/trieve/retrieval-core/internal/config"
	"github.com/trieve/retrieval-core/internal/llm"
	"github.com/trieve/retrieval-core/internal/memory"
	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/query"
	"github.com/trieve/retrieval-core/internal/repository"
)

// QueryStream runs the full streaming RAG flow (spec 4.9). The returned
// Result.Chunks channel is closed once the stream (or its timeout) ends;
// a background goroutine persists the assistant message and emits the
// analytics event after the last byte is produced, exactly as the
// upstream flow's detached finalizer task does.
func (o *Orchestrator) QueryStream(ctx context.Context, req Request) (Result, error) {
	queryID := uuid.New()
	queryText := o.ComposeQuery(ctx, req)
	parsed := query.ParseQuery(queryText)

	chunks, groups, err := o.retrieve(ctx, req, queryText, parsed)
	if err != nil {
		return Result{}, fmt.Errorf("rag retrieval: %w", err)
	}
	if req.GroupOriented {
		chunks = flattenGroups(groups)
	}

	out := make(chan StreamChunk, 16)

	if len(chunks) == 0 {
		go func() {
			defer close(out)
			out <- StreamChunk{Bytes: []byte("[]||" + noResultMessage)}
		}()
		return Result{QueryID: queryID, Chunks: out}, nil
	}

	history := o.history(req.TopicID)
	prompt := buildChatContext(history, req.Config.RAGPrompt, req.UserMessage, chunks, req.OnlyIncludeDocsUsed)
	llmOpts := llmOptionsFrom(req.Config)

	timeout := o.StreamTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	streamCtx, cancel := context.WithTimeout(ctx, timeout)

	tokenChan, err := o.LLM.GenerateStream(streamCtx, prompt, llmOpts)
	if err != nil {
		cancel()
		return Result{}, fmt.Errorf("starting rag stream: %w", err)
	}

	session := newStreamSession(chunks, req.CompletionFirst, req.OnlyIncludeDocsUsed)

	go func() {
		defer cancel()
		defer close(out)

		var streamErr error
		for tc := range tokenChan {
			if tc.Error != nil {
				streamErr = tc.Error
				break
			}
			if tc.Token == "" {
				continue
			}
			if b := session.Token(tc.Token); len(b) > 0 {
				out <- StreamChunk{Bytes: b}
			}
		}
		if streamErr == nil {
			if b := session.Finish(); len(b) > 0 {
				out <- StreamChunk{Bytes: b}
			}
		} else {
			out <- StreamChunk{Err: streamErr}
		}

		// Finalizer: persist the assistant turn and emit analytics
		// regardless of mid-stream error, using whatever text was
		// received (spec 7: "streaming error after first byte still
		// runs the finalizer with what was received").
		o.finalize(context.Background(), req, queryID, session.FullText(), chunks)
	}()

	return Result{QueryID: queryID, Chunks: out}, nil
}

// Query runs the non-streaming variant (spec 4.9 step 8): collect the
// full response, then return it already framed in the requested order.
func (o *Orchestrator) Query(ctx context.Context, req Request) (string, uuid.UUID, error) {
	queryID := uuid.New()
	queryText := o.ComposeQuery(ctx, req)
	parsed := query.ParseQuery(queryText)

	chunks, groups, err := o.retrieve(ctx, req, queryText, parsed)
	if err != nil {
		return "", queryID, fmt.Errorf("rag retrieval: %w", err)
	}
	if req.GroupOriented {
		chunks = flattenGroups(groups)
	}
	if len(chunks) == 0 {
		return "[]||" + noResultMessage, queryID, nil
	}

	history := o.history(req.TopicID)
	prompt := buildChatContext(history, req.Config.RAGPrompt, req.UserMessage, chunks, req.OnlyIncludeDocsUsed)
	llmOpts := llmOptionsFrom(req.Config)

	answer, err := o.LLM.Generate(ctx, prompt, llmOpts)
	if err != nil {
		return "", queryID, apperr.Internal(err, "rag generation failed")
	}

	o.finalize(ctx, req, queryID, answer, chunks)

	if req.CompletionFirst {
		return answer + "||" + marshalCitations(chunks), queryID, nil
	}
	return marshalCitations(chunks) + "||" + answer, queryID, nil
}

// history returns the topic's prior turns, preferring the in-process
// memory cache over the relational store so a hot topic doesn't round
// trip to Messages on every turn.
func (o *Orchestrator) history(topicID uuid.UUID) []memory.Message {
	if o.Memory != nil {
		if cached := o.Memory.GetHistory(topicID.String()); cached != nil {
			return cached
		}
	}

	if o.Messages == nil {
		return nil
	}
	msgs, err := o.Messages.GetTopicMessages(context.Background(), topicID)
	if err != nil {
		return nil
	}
	out := make([]memory.Message, len(msgs))
	for i, m := range msgs {
		out[i] = memory.Message{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
		if o.Memory != nil {
			o.Memory.AddHistorical(topicID.String(), m.Role, m.Content, m.CreatedAt)
		}
	}
	return out
}

// finalize persists the assistant turn and emits the RAG analytics event
// (spec 4.9 step 7). It never returns an error: a failure to persist the
// assistant turn is logged as a warning and otherwise ignored.
func (o *Orchestrator) finalize(ctx context.Context, req Request, queryID uuid.UUID, answer string, chunks []model.ScoreChunk) {
	if o.Messages != nil {
		if err := o.Messages.CreateMessage(ctx, &repository.Message{
			ID:        uuid.New(),
			TopicID:   req.TopicID,
			Role:      "assistant",
			Content:   answer,
			CreatedAt: time.Now(),
		}); err != nil {
			slog.Warn("persisting assistant turn failed", "topic_id", req.TopicID, "error", err)
		}
	}

	if o.Memory != nil {
		o.Memory.AddUserMessage(req.TopicID.String(), req.UserMessage)
		o.Memory.AddAssistantMessage(req.TopicID.String(), answer)
	}

	if o.Analytics == nil || req.Config.DisableAnalytics {
		return
	}

	var score float64
	var detected []string
	if o.Hallucination != nil {
		docs := make([]string, len(chunks))
		for i, c := range chunks {
			docs[i] = c.Chunk.HTML
		}
		if s, d, err := o.Hallucination.Score(ctx, answer, docs); err == nil {
			score, detected = s, d
		}
	}

	results := make([]uuid.UUID, len(chunks))
	jsonResults := make([]string, len(chunks))
	for i, c := range chunks {
		results[i] = c.Chunk.ID
		data, _ := json.Marshal(toCitations([]model.ScoreChunk{c})[0])
		jsonResults[i] = string(data)
	}

	o.Analytics.Send(analytics.Event{RAG: &analytics.RAGEvent{
		ID:                     queryID,
		TopScore:               topScoreOf(chunks, nil),
		Results:                results,
		JSONResults:            jsonResults,
		UserMessage:            req.UserMessage,
		RagType:                ragType(req),
		LLMResponse:            answer,
		UserID:                 req.UserID,
		HallucinationScore:     score,
		DetectedHallucinations: detected,
	}})
}

func llmOptionsFrom(cfg config.DatasetConfig) llm.GenerateOptions {
	return llm.GenerateOptions{
		Model:            cfg.LLMDefaultModel,
		SystemPrompt:     cfg.SystemPrompt,
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
		StopTokens:       cfg.StopTokens,
	}
}
