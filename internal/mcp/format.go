package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/search"
)

// FormatSearchResults renders results as markdown for the tool text content.
func FormatSearchResults(query string, results []search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for %q\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "### %d. %s (lines %d-%d)\n\n", i+1, r.Path, r.StartLine, r.EndLine)
		fmt.Fprintf(&sb, "**Score:** %.3f", r.Score)
		if reason := matchReason(r); reason != "" {
			fmt.Fprintf(&sb, " (%s)", reason)
		}
		sb.WriteString("\n\n")
		if r.Snippet != "" {
			sb.WriteString("```markdown\n")
			sb.WriteString(strings.TrimRight(r.Snippet, "\n"))
			sb.WriteString("\n```\n\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// FormatStatus renders engine status as markdown.
func FormatStatus(root string, st search.Status) string {
	return fmt.Sprintf("## Index status\n\n"+
		"- **Root:** %s\n- **Files:** %d\n- **Chunks:** %d\n- **Embedding:** %s (%s)\n- **Storage:** %s\n",
		root, st.Files, st.Chunks, st.Provider, st.Model, st.StorageType)
}

// FormatSyncReport renders a sync report as markdown.
func FormatSyncReport(r index.SyncReport) string {
	return fmt.Sprintf("Sync complete: %d added, %d updated, %d removed, %d unchanged, %d failed (%d chunks written in %s).",
		r.Added, r.Updated, r.Removed, r.Unchanged, r.Failed, r.Chunks, r.Duration.Round(time.Millisecond))
}

// FormatReadResult renders a document window with its location.
func FormatReadResult(r search.ReadResult) string {
	if r.StartLine == 0 {
		return fmt.Sprintf("%s has %d lines; the requested range is empty.", r.Path, r.TotalLines)
	}
	return fmt.Sprintf("**%s** lines %d-%d of %d\n\n```markdown\n%s\n```\n",
		r.Path, r.StartLine, r.EndLine, r.TotalLines, r.Text)
}

// matchReason explains which sources found the result.
func matchReason(r search.Result) string {
	switch {
	case r.VectorScore != nil && r.TextScore != nil:
		return "semantic and keyword match"
	case r.VectorScore != nil:
		return "semantic match"
	case r.TextScore != nil:
		return "keyword match"
	default:
		return ""
	}
}

// clampLimit returns def for non-positive limits and caps at hi.
func clampLimit(limit, def, hi int) int {
	if limit <= 0 {
		return def
	}
	if limit > hi {
		return hi
	}
	return limit
}
