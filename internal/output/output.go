// Package output formats CLI results. Color is used only when writing to a
// terminal and NO_COLOR is unset.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/hybridsearch/internal/search"
)

// snippetLines caps the snippet shown under each text result.
const snippetLines = 3

// Writer provides formatted output for the CLI.
type Writer struct {
	out      io.Writer
	useColor bool

	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	heading lipgloss.Style
	dim     lipgloss.Style
	score   lipgloss.Style
}

// New creates a Writer, enabling color for terminals.
func New(out io.Writer) *Writer {
	return NewWithColor(out, colorEnabled(out))
}

// NewWithColor creates a Writer with color explicitly on or off.
func NewWithColor(out io.Writer, useColor bool) *Writer {
	w := &Writer{out: out, useColor: useColor}
	style := func(color string) lipgloss.Style {
		if !useColor {
			return lipgloss.NewStyle()
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	}
	w.success = style("78")
	w.warning = style("220")
	w.failure = style("196")
	w.heading = style("39")
	w.dim = style("245")
	w.score = style("31")
	if useColor {
		w.heading = w.heading.Bold(true)
	}
	return w
}

func colorEnabled(out io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := out.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// UseColor reports whether styles are applied.
func (w *Writer) UseColor() bool {
	return w.useColor
}

// Status prints a message after an icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(w.success.Render("✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning.
func (w *Writer) Warning(msg string) {
	w.Status(w.warning.Render("!"), msg)
}

// Warningf prints a formatted warning.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error.
func (w *Writer) Error(msg string) {
	w.Status(w.failure.Render("✗"), msg)
}

// Errorf prints a formatted error.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Code prints an indented block surrounded by blank lines.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Results prints ranked search results with a short snippet each. With
// explain set, the per-source scores are shown too.
func (w *Writer) Results(query string, results []search.Result, explain bool) {
	if len(results) == 0 {
		w.Statusf("", "No results found for %q", query)
		return
	}

	w.Status(w.heading.Render("Found"), fmt.Sprintf("%d results for %q:", len(results), query))
	w.Newline()
	for i, r := range results {
		location := r.Path
		if r.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", r.Path, r.StartLine)
		}
		w.Statusf("", "%d. %s %s", i+1, location, w.score.Render(fmt.Sprintf("(score: %.3f)", r.Score)))
		if explain {
			w.Status("", w.dim.Render("      vector: "+formatSourceScore(r.VectorScore)+" | keyword: "+formatSourceScore(r.TextScore)))
		}
		for _, line := range snippet(r.Snippet, snippetLines) {
			w.Status("", w.dim.Render("   "+line))
		}
		w.Newline()
	}
}

// IndexStatus prints the index summary.
func (w *Writer) IndexStatus(root string, st search.Status) {
	w.Status(w.heading.Render("Index"), root)
	w.Statusf("", "Files:     %d", st.Files)
	w.Statusf("", "Chunks:    %d", st.Chunks)
	w.Statusf("", "Embedding: %s (%s)", st.Provider, st.Model)
	w.Statusf("", "Storage:   %s", st.StorageType)
	if st.Files == 0 {
		w.Newline()
		w.Warning("Index is empty. Run 'hybridsearch index' first.")
	}
}

// File prints a line window of a document with line numbers.
func (w *Writer) File(r search.ReadResult) {
	if r.StartLine == 0 {
		w.Statusf("", "%s has no lines in the requested range (%d lines total)", r.Path, r.TotalLines)
		return
	}
	w.Status(w.heading.Render(r.Path), w.dim.Render(fmt.Sprintf("lines %d-%d of %d", r.StartLine, r.EndLine, r.TotalLines)))
	width := len(fmt.Sprint(r.EndLine))
	for i, line := range strings.Split(r.Text, "\n") {
		num := fmt.Sprintf("%*d", width, r.StartLine+i)
		_, _ = fmt.Fprintf(w.out, "%s  %s\n", w.dim.Render(num), line)
	}
}

func formatSourceScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *s)
}

// snippet returns up to n non-blank lines.
func snippet(text string, n int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}
