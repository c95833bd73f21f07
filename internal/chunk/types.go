package chunk

import "strconv"

// Chunk size defaults
const (
	DefaultTokensPerChunk = 512
	DefaultOverlapTokens  = 50
)

// Metadata is the structural information extracted from a chunk's lines.
type Metadata struct {
	Title   string   // First level-1 header text, if any
	Headers []string // Raw header lines in encounter order; nil when the chunk has none
}

// Chunk is a contiguous span of a source document.
type Chunk struct {
	ID        string // path:startLine
	Path      string // Relative to the indexed root
	Content   string // Exact span text, newline-joined
	StartLine int    // 1-indexed
	EndLine   int    // Inclusive
	Metadata  Metadata
}

// Config holds the chunking budget.
type Config struct {
	TokensPerChunk int
	OverlapTokens  int
}

// DefaultConfig returns the default chunking budget.
func DefaultConfig() Config {
	return Config{
		TokensPerChunk: DefaultTokensPerChunk,
		OverlapTokens:  DefaultOverlapTokens,
	}
}

// WithDefaults fills zero (or negative) fields with defaults.
func (c Config) WithDefaults() Config {
	if c.TokensPerChunk <= 0 {
		c.TokensPerChunk = DefaultTokensPerChunk
	}
	if c.OverlapTokens <= 0 {
		c.OverlapTokens = DefaultOverlapTokens
	}
	return c
}

// ID returns the stable identifier for a chunk starting at startLine in path.
func ID(path string, startLine int) string {
	return path + ":" + strconv.Itoa(startLine)
}
