package retrieval

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/trieve/retrieval-core/internal/model"
)

// defaultHighlightTimeout and defaultMaxQueryWords match spec 4.7's
// stated defaults (500ms, 20 words); HighlightOptions.MaxLength/MaxNum/
// Window of zero mean "use the package default" below.
const (
	defaultHighlightTimeout = 500 * time.Millisecond
	defaultMaxQueryWords    = 20
	defaultWindow           = 30
	defaultMaxLength        = 240
	defaultMaxNum           = 3
)

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// ExtractHighlights runs a local scorer between queryText and
// sentence-splits of html, returning up to MaxNum snippets. It never
// fails the caller: a timeout or scoring error yields nil (the original
// HTML is used unmodified by the caller).
func ExtractHighlights(html, queryText string, opts model.HighlightOptions) []model.Highlight {
	timeout := defaultHighlightTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type result struct {
		highlights []model.Highlight
	}
	done := make(chan result, 1)
	go func() {
		done <- result{highlights: scoreHighlights(html, queryText, opts)}
	}()

	select {
	case r := <-done:
		return r.highlights
	case <-ctx.Done():
		return nil
	}
}

func scoreHighlights(html, queryText string, opts model.HighlightOptions) []model.Highlight {
	queryWords := splitWords(queryText)
	if len(queryWords) > defaultMaxQueryWords {
		queryWords = queryWords[:defaultMaxQueryWords]
	}
	if len(queryWords) == 0 {
		return nil
	}

	delims := opts.Delimiters
	if delims == "" {
		delims = "?,.!\n\t,"
	}
	sentences := splitSentences(html, delims)

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = 0.8
	}
	maxNum := opts.MaxNum
	if maxNum == 0 {
		maxNum = defaultMaxNum
	}
	window := opts.Window
	if window == 0 {
		window = defaultWindow
	}
	maxLength := opts.MaxLength
	if maxLength == 0 {
		maxLength = defaultMaxLength
	}
	preTag, postTag := opts.PreTag, opts.PostTag
	if preTag == "" {
		preTag = "<mark>"
	}
	if postTag == "" {
		postTag = "</mark>"
	}

	type candidate struct {
		sentence string
		score    float64
	}
	var candidates []candidate
	for _, s := range sentences {
		var score float64
		switch opts.Strategy {
		case model.HighlightExactMatch:
			score = exactMatchScore(s, queryWords)
		default:
			score = fuzzyScore(s, queryWords)
		}
		if score >= threshold {
			candidates = append(candidates, candidate{sentence: s, score: score})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > maxNum {
		candidates = candidates[:maxNum]
	}

	out := make([]model.Highlight, 0, len(candidates))
	for _, c := range candidates {
		snippet := wrapSnippet(c.sentence, queryWords, window, maxLength, preTag, postTag)
		out = append(out, model.Highlight{Snippet: snippet})
	}
	return out
}

// fuzzyScore (V1) is the fraction of query words present as substrings of
// the sentence, case-insensitive.
func fuzzyScore(sentence string, queryWords []string) float64 {
	lower := strings.ToLower(stripTags(sentence))
	hits := 0
	for _, w := range queryWords {
		if strings.Contains(lower, strings.ToLower(w)) {
			hits++
		}
	}
	return float64(hits) / float64(len(queryWords))
}

// exactMatchScore requires whole-word, token-boundary matches rather than
// raw substring containment.
func exactMatchScore(sentence string, queryWords []string) float64 {
	tokens := make(map[string]struct{})
	for _, t := range splitWords(stripTags(sentence)) {
		tokens[strings.ToLower(t)] = struct{}{}
	}
	hits := 0
	for _, w := range queryWords {
		if _, ok := tokens[strings.ToLower(w)]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryWords))
}

func wrapSnippet(sentence string, queryWords []string, window, maxLength int, preTag, postTag string) string {
	clean := stripTags(sentence)
	lower := strings.ToLower(clean)

	matchStart := -1
	matchLen := 0
	for _, w := range queryWords {
		idx := strings.Index(lower, strings.ToLower(w))
		if idx >= 0 && (matchStart == -1 || idx < matchStart) {
			matchStart = idx
			matchLen = len(w)
		}
	}
	if matchStart == -1 {
		if len(clean) > maxLength {
			return clean[:maxLength]
		}
		return clean
	}

	start := matchStart - window
	if start < 0 {
		start = 0
	}
	end := matchStart + matchLen + window
	if end > len(clean) {
		end = len(clean)
	}
	snippet := clean[start:matchStart] + preTag + clean[matchStart:matchStart+matchLen] + postTag + clean[matchStart+matchLen:end]
	if len(snippet) > maxLength {
		snippet = snippet[:maxLength]
	}
	return snippet
}

func stripTags(s string) string {
	return htmlTagPattern.ReplaceAllString(s, "")
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func splitSentences(html, delims string) []string {
	isDelim := func(r rune) bool { return strings.ContainsRune(delims, r) }
	raw := strings.FieldsFunc(html, isDelim)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
