package chunk

import (
	"regexp"
	"strings"
)

// Matches headers: # Title, ## Title, etc.
var headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Option configures a MarkdownChunker.
type Option func(*MarkdownChunker)

// WithTokenCounter replaces the default whitespace token counter.
func WithTokenCounter(counter TokenCounter) Option {
	return func(c *MarkdownChunker) {
		if counter != nil {
			c.counter = counter
		}
	}
}

// MarkdownChunker splits documents into token-budgeted, overlapping line windows.
// It holds no mutable state and is safe for concurrent use.
type MarkdownChunker struct {
	config  Config
	counter TokenCounter
}

// NewMarkdownChunker creates a chunker. Zero config fields use defaults.
func NewMarkdownChunker(cfg Config, opts ...Option) *MarkdownChunker {
	c := &MarkdownChunker{
		config:  cfg.WithDefaults(),
		counter: WordCounter{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective chunking budget.
func (c *MarkdownChunker) Config() Config {
	return c.config
}

// SupportedExtensions returns file extensions this chunker handles.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

// Chunk splits text into chunks. The chunks' line ranges cover every line of
// a document that has any non-blank content; whitespace-only input yields no
// chunks, so coverage does not apply to it.
func (c *MarkdownChunker) Chunk(text, path string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	counts := make([]int, len(lines))
	for i, line := range lines {
		counts[i] = c.counter.Count(line)
	}

	var chunks []Chunk
	bufStart := 0 // index of the first buffered line
	current := 0

	for i := range lines {
		if current+counts[i] > c.config.TokensPerChunk && i > bufStart {
			// Line i+1 does not fit: close lines bufStart+1..i.
			chunks = append(chunks, c.build(lines[bufStart:i], path, bufStart+1, i))

			bufStart = i - c.overlapLen(counts[bufStart:i])
			current = 0
			for _, n := range counts[bufStart:i] {
				current += n
			}
		}
		current += counts[i]
	}

	if bufStart < len(lines) {
		chunks = append(chunks, c.build(lines[bufStart:], path, bufStart+1, len(lines)))
	}
	return chunks
}

// overlapLen returns how many trailing lines of a closed buffer carry into the
// next chunk: as many as fit in the overlap budget, and never the whole buffer,
// so every chunk starts strictly after the previous one.
func (c *MarkdownChunker) overlapLen(counts []int) int {
	total, keep := 0, 0
	for j := len(counts) - 1; j > 0; j-- {
		if total+counts[j] > c.config.OverlapTokens {
			break
		}
		total += counts[j]
		keep++
	}
	return keep
}

func (c *MarkdownChunker) build(lines []string, path string, startLine, endLine int) Chunk {
	return Chunk{
		ID:        ID(path, startLine),
		Path:      path,
		Content:   strings.Join(lines, "\n"),
		StartLine: startLine,
		EndLine:   endLine,
		Metadata:  extractMetadata(lines),
	}
}

func extractMetadata(lines []string) Metadata {
	var meta Metadata
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		m := headerPattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		if len(m[1]) == 1 && meta.Title == "" {
			meta.Title = strings.TrimSpace(m[2])
		}
		meta.Headers = append(meta.Headers, trimmed)
	}
	return meta
}
