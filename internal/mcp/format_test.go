package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/hybridsearch/internal/search"
)

func TestFormatSearchResults(t *testing.T) {
	got := FormatSearchResults("backups", sampleResults())

	want := "## Results for \"backups\"\n\n" +
		"### 1. guide.md (lines 1-12)\n\n" +
		"**Score:** 0.700 (semantic match)\n\n" +
		"```markdown\n# Guide\nInstall with make.\n```\n\n" +
		"### 2. faq.md (lines 5-9)\n\n" +
		"**Score:** 0.685 (semantic and keyword match)\n\n" +
		"```markdown\nBackups run nightly.\n```\n"
	assert.Equal(t, want, got)
}

func TestMatchReason(t *testing.T) {
	assert.Equal(t, "keyword match", matchReason(search.Result{TextScore: ptr(1)}))
	assert.Equal(t, "", matchReason(search.Result{}))
}

func TestFormatReadResult_Empty(t *testing.T) {
	got := FormatReadResult(search.ReadResult{Path: "a.md", TotalLines: 4})
	assert.Equal(t, "a.md has 4 lines; the requested range is empty.", got)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		limit, want int
	}{
		{0, 10},
		{-5, 10},
		{1, 1},
		{50, 50},
		{51, 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampLimit(tt.limit, 10, 50))
	}
}
