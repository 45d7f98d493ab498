package rag

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/trieve/retrieval-core/internal/model"
)

var docsUsedPattern = regexp.MustCompile(`(?s)^DOCS_USED:\s*\[([0-9,\s]*)\]\s*\n`)

// streamSession holds the per-request mutable state needed to interleave
// citations with streamed answer tokens (spec 4.9 steps 5-6), mirroring
// the upstream stream_response state machine (started flag,
// completion-first vs citations-first ordering, the only_include_docs_used
// preamble parse) without its atomic-state plumbing, since a single
// goroutine owns this type for the life of one stream.
type streamSession struct {
	chunks              []model.ScoreChunk
	completionFirst     bool
	onlyIncludeDocsUsed bool

	started        bool   // citations already emitted (citations-first path)
	preambleBuf    string // buffered text awaiting the DOCS_USED preamble
	preambleDone   bool
	docsUsed       []int // nil means "all chunks" (preamble not required, or not yet parsed)

	full strings.Builder // full emitted answer text, for persistence
}

func newStreamSession(chunks []model.ScoreChunk, completionFirst, onlyIncludeDocsUsed bool) *streamSession {
	return &streamSession{chunks: chunks, completionFirst: completionFirst, onlyIncludeDocsUsed: onlyIncludeDocsUsed}
}

// Token processes one LLM token and returns the bytes to forward to the
// client, in order. It never blocks.
func (s *streamSession) Token(token string) []byte {
	if !s.onlyIncludeDocsUsed {
		return s.tokenNoPreamble(token)
	}
	return s.tokenWithPreamble(token)
}

func (s *streamSession) tokenNoPreamble(token string) []byte {
	return s.emit(token)
}

func (s *streamSession) tokenWithPreamble(token string) []byte {
	if s.preambleDone {
		return s.emit(token)
	}

	s.preambleBuf += token
	m := docsUsedPattern.FindStringSubmatch(s.preambleBuf)
	if m == nil {
		return nil // still waiting for the full preamble line
	}
	s.docsUsed = parseDocNumbers(m[1])
	s.preambleDone = true

	rest := s.preambleBuf[len(m[0]):]
	s.preambleBuf = ""
	if rest == "" {
		return nil
	}
	return s.emit(rest)
}

// emit forwards text accumulated in the full-answer buffer, prefixing
// the citations block the first time any text is forwarded in
// citations-first mode.
func (s *streamSession) emit(text string) []byte {
	s.full.WriteString(text)
	if s.completionFirst {
		return []byte(text)
	}
	if !s.started {
		s.started = true
		return append([]byte(marshalCitations(s.filteredChunks())+"||"), text...)
	}
	return []byte(text)
}

// Finish returns the trailing bytes to emit once the stream's
// finish_reason arrives: completion-first mode appends "||" + citations
// here; citations-first mode has nothing left to add.
func (s *streamSession) Finish() []byte {
	if !s.completionFirst {
		return nil
	}
	return []byte("||" + marshalCitations(s.filteredChunks()))
}

// FullText returns the complete emitted answer text (excluding the
// citations JSON and delimiter), for persistence.
func (s *streamSession) FullText() string {
	return s.full.String()
}

func (s *streamSession) filteredChunks() []model.ScoreChunk {
	if s.docsUsed == nil {
		return s.chunks
	}
	keep := make(map[int]struct{}, len(s.docsUsed))
	for _, n := range s.docsUsed {
		keep[n] = struct{}{}
	}
	out := make([]model.ScoreChunk, 0, len(s.docsUsed))
	for i, c := range s.chunks {
		if _, ok := keep[i+1]; ok {
			out = append(out, c)
		}
	}
	return out
}

func parseDocNumbers(csv string) []int {
	var out []int
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}
