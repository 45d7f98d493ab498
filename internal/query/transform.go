// Package query builds vector-index query plans from search requests:
// the Vector Builder (spec 4.2), Query Planner (spec 4.3), and the
// Typo & Query Transforms that run ahead of both (spec 4.10).
package query

import (
	"context"
	"regexp"
	"strings"

	"github.com/trieve/retrieval-core/internal/model"
)

var quotedPhrase = regexp.MustCompile(`"([^"]*)"`)

// defaultStopWords is a small, fixed set; the donor corpus ships no
// stop-word list, so this is a conservative English set covering the
// words most likely to dilute a sparse/BM25 match.
var defaultStopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "at": {}, "by": {},
}

// ParseQuery extracts quoted phrases and negated terms from raw query
// text (spec 4.10). Quoted substrings become must-include phrases;
// tokens starting with "-" become must-exclude terms. The remaining
// text, with quotes and negation markers stripped, is returned as Text.
func ParseQuery(raw string) model.ParsedQuery {
	var quoted []string
	stripped := quotedPhrase.ReplaceAllStringFunc(raw, func(m string) string {
		phrase := quotedPhrase.FindStringSubmatch(m)[1]
		if strings.TrimSpace(phrase) != "" {
			quoted = append(quoted, phrase)
		}
		return ""
	})

	var negated []string
	var kept []string
	for _, tok := range strings.Fields(stripped) {
		if strings.HasPrefix(tok, "-") && len(tok) > 1 {
			negated = append(negated, strings.TrimPrefix(tok, "-"))
			continue
		}
		kept = append(kept, tok)
	}

	return model.ParsedQuery{
		Text:        strings.Join(kept, " "),
		QuoteWords:  quoted,
		NegatedWords: negated,
	}
}

// RemoveStopWords splits the query at stop-word boundaries and
// concatenates the remaining spans (spec 4.10). If the result would be
// empty, the original text is kept so retrieval never runs on an empty
// query.
func RemoveStopWords(text string) string {
	tokens := strings.Fields(text)
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, isStop := defaultStopWords[strings.ToLower(tok)]; isStop {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return text
	}
	return strings.Join(kept, " ")
}

// TypoCorrector consults an external correction service (spec 4.10).
// Out of scope per spec 1's collaborator list; this is the interface the
// Query Planner depends on.
type TypoCorrector interface {
	Correct(ctx context.Context, text string) (corrected string, wasCorrected bool, err error)
}
