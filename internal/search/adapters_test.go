package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridsearch/internal/store"
)

func TestVectorSearcher_Search(t *testing.T) {
	// Given: storage returning two scored chunks and a nil entry
	s := &MockStorage{VectorHits: []*store.ScoredChunk{
		scored("a.md", 1, 4, "# A\nalpha", 0.93),
		nil,
		scored("b.md", 5, 9, "beta", 0.81),
	}}
	vs := NewVectorSearcher(s)

	// When: searching
	results, err := vs.Search(context.Background(), []float32{1, 0}, Options{MaxResults: 7, MinScore: 0.2})

	// Then: options are passed through and native scores are discarded
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []store.VectorSearchOptions{{Limit: 7, MinScore: 0.2}}, s.VectorOpts)
	assert.Equal(t, Result{Path: "a.md", StartLine: 1, EndLine: 4, Snippet: "# A alpha"}, results[0])
	assert.Zero(t, results[1].Score)
	assert.Nil(t, results[1].VectorScore)
}

func TestVectorSearcher_Error(t *testing.T) {
	boom := errors.New("disk on fire")
	vs := NewVectorSearcher(&MockStorage{VectorErr: boom})

	_, err := vs.Search(context.Background(), []float32{1}, DefaultOptions())

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "vector search")
}

func TestKeywordSearcher_Search(t *testing.T) {
	s := &MockStorage{KeywordHits: []*store.ScoredChunk{scored("c.md", 2, 3, "gamma", 4.2)}}
	ks := NewKeywordSearcher(s)

	results, err := ks.Search(context.Background(), "gamma ray", 3)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c.md", results[0].Path)
	assert.Zero(t, results[0].Score)
	assert.Equal(t, []string{"gamma ray"}, s.Queries)
	assert.Equal(t, []store.KeywordSearchOptions{{Limit: 3}}, s.KeywordOpts)
}

func TestKeywordSearcher_Error(t *testing.T) {
	boom := errors.New("fts unavailable")
	ks := NewKeywordSearcher(&MockStorage{KeywordErr: boom})

	_, err := ks.Search(context.Background(), "q", 3)

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "keyword search")
}

func TestExtractSnippet(t *testing.T) {
	long := strings.Repeat("é", 250)

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", ""},
		{"single line", "hello", "hello"},
		{"joins lines", "a\nb\nc", "a b c"},
		{"first five lines", "1\n2\n3\n4\n5\n6\n7", "1 2 3 4 5"},
		{"strips carriage returns", "a\r\nb\r\n", "a b "},
		{"caps at 200 runes", long, strings.Repeat("é", 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractSnippet(tt.content))
		})
	}
}
