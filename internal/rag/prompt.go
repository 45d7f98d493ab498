package rag

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trieve/retrieval-core/internal/memory"
	"github.com/trieve/retrieval-core/internal/model"
)

// citation is the JSON shape emitted in the citations array (spec 4.9
// step 5), a generalization of the donor's chunkContext into the shape
// the streamed citations payload serializes as.
type citation struct {
	Doc      int            `json:"doc"`
	ID       string         `json:"id"`
	Content  string         `json:"text"`
	Link     string         `json:"link,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	TagSet   []string       `json:"tag_set,omitempty"`
	Score    float32        `json:"score"`
}

func toCitations(chunks []model.ScoreChunk) []citation {
	out := make([]citation, len(chunks))
	for i, c := range chunks {
		out[i] = citation{
			Doc:      i + 1,
			ID:       c.Chunk.ID.String(),
			Content:  c.Chunk.HTML,
			Link:     c.Chunk.Link,
			Metadata: c.Chunk.Metadata,
			TagSet:   c.Chunk.TagSet,
			Score:    c.Score,
		}
	}
	return out
}

func marshalCitations(chunks []model.ScoreChunk) string {
	data, err := json.Marshal(toCitations(chunks))
	if err != nil {
		return "[]"
	}
	// The unconditional "||" strip matches the upstream stream_response
	// behavior: the delimiter is the stream's own framing byte sequence,
	// so any literal occurrence inside citation text must not survive
	// into the emitted JSON.
	return strings.ReplaceAll(string(data), "||", "")
}

// buildChatContext assembles the message list sent to the LLM (spec step
// 4): prior topic history, then a user turn containing the prompt
// preamble plus the serialized retrieved docs.
func buildChatContext(history []memory.Message, ragPrompt, userMessage string, chunks []model.ScoreChunk, onlyIncludeDocsUsed bool) string {
	var sb strings.Builder

	if len(history) > 0 {
		sb.WriteString(memory.FormatForPrompt(history))
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Here's my prompt: %s\n\n", userMessage))
	if ragPrompt != "" {
		sb.WriteString(ragPrompt)
		sb.WriteString("\n\n")
	}
	for i, c := range chunks {
		sb.WriteString(fmt.Sprintf("[Doc %d]\n%s\n\n", i+1, c.Chunk.HTML))
	}
	if onlyIncludeDocsUsed {
		sb.WriteString(docsUsedPreambleInstruction)
	}
	return sb.String()
}

// docsUsedPreambleInstruction asks the model to emit, before its answer,
// a machine-parseable line naming which doc numbers it actually drew on
// (spec step 6). streamSession in stream.go strips this line back out
// of the stream before it reaches the caller.
const docsUsedPreambleInstruction = "Before answering, on its own line output exactly `DOCS_USED: [n,n,...]` listing the document numbers above that you will cite, then a newline, then your answer.\n"
