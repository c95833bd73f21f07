package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/hybridsearch/internal/store"
)

// Snippet bounds.
const (
	SnippetLines    = 5
	SnippetMaxRunes = 200
)

// VectorSearcher turns storage vector hits into unscored Results.
type VectorSearcher struct {
	storage store.Storage
}

// NewVectorSearcher wraps storage for vector sub-queries.
func NewVectorSearcher(storage store.Storage) *VectorSearcher {
	return &VectorSearcher{storage: storage}
}

// Search returns hits in storage order. Scores are assigned by the Merger.
func (s *VectorSearcher) Search(ctx context.Context, vector []float32, opts Options) ([]Result, error) {
	chunks, err := s.storage.SearchByVector(ctx, vector, store.VectorSearchOptions{
		Limit:    opts.MaxResults,
		MinScore: opts.MinScore,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return toResults(chunks), nil
}

// KeywordSearcher turns storage keyword hits into unscored Results.
type KeywordSearcher struct {
	storage store.Storage
}

// NewKeywordSearcher wraps storage for keyword sub-queries.
func NewKeywordSearcher(storage store.Storage) *KeywordSearcher {
	return &KeywordSearcher{storage: storage}
}

// Search returns hits in storage order. Scores are assigned by the Merger.
func (s *KeywordSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	chunks, err := s.storage.SearchByKeyword(ctx, query, store.KeywordSearchOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return toResults(chunks), nil
}

func toResults(chunks []*store.ScoredChunk) []Result {
	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		if c == nil || c.Chunk == nil {
			continue
		}
		results = append(results, Result{
			Path:      c.Path,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Snippet:   extractSnippet(c.Content),
		})
	}
	return results
}

// extractSnippet joins the first lines of a chunk with spaces and caps the
// result at SnippetMaxRunes.
func extractSnippet(content string) string {
	lines := strings.Split(content, "\n")
	if len(lines) > SnippetLines {
		lines = lines[:SnippetLines]
	}
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	snippet := strings.Join(lines, " ")

	runes := []rune(snippet)
	if len(runes) > SnippetMaxRunes {
		return string(runes[:SnippetMaxRunes])
	}
	return snippet
}
