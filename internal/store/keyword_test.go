package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFTSMatchQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"?!  --", ""},
		{"database", `"database"*`},
		{"Install the DB", `"install" AND "the" AND "db"*`},
		{`say "hi" OR NEAR(x)`, `"say" AND "hi" AND "or" AND "near" AND "x"*`},
		{"snake_case über", `"snake_case" AND "über"*`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ftsMatchQuery(tt.in))
		})
	}
}

func TestBleveKeywordIndex(t *testing.T) {
	// Given: an in-memory bleve index with two documents
	ctx := context.Background()
	idx, err := NewBleveKeywordIndex("")
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "a", Content: "Running the migrations"},
		{ID: "b", Content: "Backups run nightly"},
	}))

	// When: searching a stemmed form
	hits, err := idx.Search(ctx, "runs", 10)
	require.NoError(t, err)

	// Then: both documents match through the English stemmer
	assert.Len(t, hits, 2)
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, idx.Delete(ctx, []string{"a"}))
	n, _ = idx.Count(ctx)
	assert.Equal(t, 1, n)

	require.NoError(t, idx.Clear(ctx))
	n, _ = idx.Count(ctx)
	assert.Equal(t, 0, n)

	require.NoError(t, idx.Close())
	_, err = idx.Search(ctx, "run", 10)
	assert.Error(t, err)
}
