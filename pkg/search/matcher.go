// Package search layers query-term highlighting and snippet extraction
// on top of the store's substring and vector searches.
package search

import (
	"strings"
	"unicode"

	"github.com/coregx/ahocorasick"
	"github.com/orsinium-labs/stopwords"

	"github.com/flowchat/flowchat/internal/store"
)

var englishStopwords = stopwords.MustGet("en")

// Span marks a matched query term inside a text, in byte offsets.
type Span struct {
	Start int
	End   int
	Term  string
}

// Result is a content-search hit with its highlight spans over the
// message's plain text.
type Result struct {
	Message *store.Message
	Text    string
	Spans   []Span
	Snippet string
}

// Matcher highlights query terms in candidate texts. Terms are matched
// case-insensitively with leftmost-longest semantics so "new york"
// wins over "new".
type Matcher struct {
	terms []string
	ac    *ahocorasick.Automaton
}

// NewMatcher tokenizes the query, drops stopwords and single-rune
// tokens, and compiles the remaining terms plus the full query phrase.
// Returns nil when nothing survives filtering.
func NewMatcher(query string) (*Matcher, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(terms).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	return &Matcher{terms: terms, ac: automaton}, nil
}

// Terms returns the compiled search terms, longest first.
func (m *Matcher) Terms() []string {
	return m.terms
}

// Highlight returns the matched spans in text, ordered by start offset.
func (m *Matcher) Highlight(text string) []Span {
	haystack := strings.ToLower(text)
	matches := m.ac.FindAllOverlapping([]byte(haystack))

	spans := make([]Span, 0, len(matches))
	for _, match := range matches {
		if match.Start >= len(text) || match.End > len(text) || match.Start >= match.End {
			continue
		}
		spans = append(spans, Span{
			Start: match.Start,
			End:   match.End,
			Term:  m.terms[match.PatternID],
		})
	}
	return spans
}

// Snippet extracts a window of roughly radius bytes on each side of the
// first match, cut at rune boundaries, with ellipses where the window
// truncates the text. Returns a plain prefix when nothing matches.
func Snippet(text string, spans []Span, radius int) string {
	if radius <= 0 {
		radius = 80
	}
	if len(spans) == 0 {
		if len(text) <= 2*radius {
			return text
		}
		return text[:runeBoundary(text, 2*radius)] + "…"
	}

	first := spans[0]
	start := first.Start - radius
	if start < 0 {
		start = 0
	}
	end := first.End + radius
	if end > len(text) {
		end = len(text)
	}
	start = runeBoundary(text, start)
	end = runeBoundary(text, end)

	var b strings.Builder
	if start > 0 {
		b.WriteString("…")
	}
	b.WriteString(text[start:end])
	if end < len(text) {
		b.WriteString("…")
	}
	return b.String()
}

// queryTerms lowercases and tokenizes the query, drops stopwords and
// single-rune tokens, dedupes, and prepends the full multi-word phrase
// so exact phrase hits outrank term hits under leftmost-longest.
func queryTerms(query string) []string {
	lowered := strings.ToLower(strings.TrimSpace(query))
	if lowered == "" {
		return nil
	}

	tokens := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(tokens)+1)
	terms := make([]string, 0, len(tokens)+1)

	if len(tokens) > 1 {
		phrase := strings.Join(tokens, " ")
		seen[phrase] = struct{}{}
		terms = append(terms, phrase)
	}

	for _, tok := range tokens {
		if len([]rune(tok)) < 2 {
			continue
		}
		if englishStopwords.Contains(tok) {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}

	if len(terms) == 0 && len(tokens) > 0 {
		// Every token was a stopword; fall back to the raw tokens so
		// "to be or not to be" still finds something.
		for _, tok := range tokens {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			terms = append(terms, tok)
		}
	}
	return terms
}

func runeBoundary(s string, i int) int {
	for i > 0 && i < len(s) && !utf8RuneStart(s[i]) {
		i--
	}
	return i
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
