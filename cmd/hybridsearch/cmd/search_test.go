package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/search"
)

func indexProject(t *testing.T, dir string) {
	t.Helper()
	out, err := execute(t, "--dir", dir, "index", "--plain")
	require.NoError(t, err, out)
}

func TestIndexCmd_PlainProgress(t *testing.T) {
	// Given: a directory with two Markdown files
	dir := setupProject(t)

	// When: indexing with plain output
	out, err := execute(t, "--dir", dir, "index", "--plain")

	// Then: the summary reports both files
	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 2 added, 0 updated, 0 removed, 0 unchanged")
}

func TestSyncCmd_JSONReport(t *testing.T) {
	dir := setupProject(t)
	indexProject(t, dir)
	writeDoc(t, dir, "new.md", "# New\n\nA fresh page.\n")

	out, err := execute(t, "--dir", dir, "sync", "--format", "json")

	require.NoError(t, err)
	var report index.SyncReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 2, report.Unchanged)
}

func TestSearchCmd_KeywordJSON(t *testing.T) {
	// Given: an indexed project
	dir := setupProject(t)
	indexProject(t, dir)

	// When: searching keywords with JSON output
	out, err := execute(t, "--dir", dir, "search", "nightly", "--mode", "keyword", "--format", "json")

	// Then: the document containing the word comes first
	require.NoError(t, err)
	var results []search.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.NotEmpty(t, results)
	assert.Equal(t, "guide.md", results[0].Path)
	assert.NotEmpty(t, results[0].Snippet)
	assert.Nil(t, results[0].VectorScore)
}

func TestSearchCmd_HybridText(t *testing.T) {
	dir := setupProject(t)
	indexProject(t, dir)

	out, err := execute(t, "--dir", dir, "search", "backups", "run", "nightly", "--explain", "--strategy", "rrf")

	require.NoError(t, err)
	assert.Contains(t, out, `results for "backups run nightly"`)
	assert.Contains(t, out, "guide.md")
	assert.Contains(t, out, "vector:")
}

func TestSearchCmd_Limit(t *testing.T) {
	dir := setupProject(t)
	indexProject(t, dir)

	out, err := execute(t, "--dir", dir, "search", "install deployment", "-n", "1", "--format", "json")

	require.NoError(t, err)
	var results []search.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Len(t, results, 1)
}

func TestSearchCmd_EmptyIndexHint(t *testing.T) {
	dir := setupProject(t)

	out, err := execute(t, "--dir", dir, "search", "anything")

	require.NoError(t, err)
	assert.Contains(t, out, "No results found")
	assert.Contains(t, out, "hybridsearch index")
}

func TestSearchCmd_BadFlags(t *testing.T) {
	dir := setupProject(t)

	tests := [][]string{
		{"search", "q", "--mode", "fuzzy"},
		{"search", "q", "--strategy", "borda"},
		{"search", "q", "--format", "xml"},
		{"search"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := execute(t, append([]string{"--dir", dir}, args...)...)
			assert.Error(t, err)
		})
	}
}

func TestReadCmd(t *testing.T) {
	dir := setupProject(t)

	out, err := execute(t, "--dir", dir, "read", "guide.md", "--from", "5", "--lines", "3")

	require.NoError(t, err)
	assert.Contains(t, out, "lines 5-7 of 7")
	assert.Contains(t, out, "## Backups")
	assert.NotContains(t, out, "# Install")
}

func TestReadCmd_OutsideRoot(t *testing.T) {
	dir := setupProject(t)

	_, err := execute(t, "--dir", dir, "read", "../secret.md")

	assert.Error(t, err)
}

func TestStatusCmd_JSON(t *testing.T) {
	dir := setupProject(t)
	indexProject(t, dir)

	out, err := execute(t, "--dir", dir, "status", "--json")

	require.NoError(t, err)
	var st statusJSON
	require.NoError(t, json.Unmarshal([]byte(out), &st), out)
	assert.Equal(t, 2, st.Files)
	assert.Positive(t, st.Chunks)
	assert.Equal(t, "static", st.Provider)
	assert.Equal(t, "sqlite", st.StorageType)
	assert.Positive(t, st.IndexBytes)
}

func TestStatusCmd_EmptyIndex(t *testing.T) {
	dir := setupProject(t)

	out, err := execute(t, "--dir", dir, "status")

	require.NoError(t, err)
	assert.Contains(t, out, "Index is empty")
}
