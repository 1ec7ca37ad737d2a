package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/flowchat/flowchat/internal/store"
	"github.com/flowchat/flowchat/pkg/embedding"
)

// DefaultSnippetRadius is the context window around the first match.
const DefaultSnippetRadius = 80

// Service runs text and semantic searches over stored messages.
type Service struct {
	store    store.Storer
	embedder embedding.Embedder
	log      zerolog.Logger
}

// NewService creates a search service. embedder may be nil; Semantic
// then returns an error.
func NewService(s store.Storer, embedder embedding.Embedder, log zerolog.Logger) *Service {
	return &Service{store: s, embedder: embedder, log: log}
}

// Text searches message content for the query substring-wise, scoped to
// a room when roomID is non-empty, and decorates each hit with
// highlight spans and a snippet.
func (s *Service) Text(query, roomID string) ([]Result, error) {
	messages, err := s.store.SearchByContent(query, roomID)
	if err != nil {
		return nil, err
	}

	matcher, err := NewMatcher(query)
	if err != nil {
		return nil, fmt.Errorf("compile query %q: %w", query, err)
	}

	results := make([]Result, 0, len(messages))
	for _, m := range messages {
		text := m.PlainText()
		var spans []Span
		if matcher != nil {
			spans = matcher.Highlight(text)
		}
		results = append(results, Result{
			Message: m,
			Text:    text,
			Spans:   spans,
			Snippet: Snippet(text, spans, DefaultSnippetRadius),
		})
	}
	return results, nil
}

// Semantic embeds the query and returns the limit nearest messages by
// cosine similarity, most similar first.
func (s *Service) Semantic(ctx context.Context, query string, limit int) ([]*store.ScoredMessage, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("semantic search requires an embedding provider")
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	return s.store.VectorSimilaritySearch(vectors[0], limit)
}
