// Package search provides hybrid search over indexed Markdown documents.
// A query runs a vector sub-query and a keyword sub-query in parallel; the
// two ranked lists are fused per document path by the Merger.
package search

import (
	"errors"
	"fmt"
	"strings"
)

// Default search parameters.
const (
	DefaultMaxResults   = 10
	DefaultVectorWeight = 0.7
	DefaultTextWeight   = 0.3

	// DefaultRRFConstant is the standard RRF smoothing parameter k=60.
	DefaultRRFConstant = 60
)

var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("search engine is closed")

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("nil dependency")

	// ErrInvalidPath is returned when a read path escapes the indexed root.
	ErrInvalidPath = errors.New("path is outside the indexed directory")
)

// Result is a single fused hit at document-path granularity.
type Result struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Snippet   string `json:"snippet"`

	// Score is the fused score. Larger is better.
	Score float64 `json:"score"`

	// VectorScore and TextScore hold the per-source contribution before
	// weighting. Nil when the path was absent from that source.
	VectorScore *float64 `json:"vector_score,omitempty"`
	TextScore   *float64 `json:"text_score,omitempty"`
}

// Options bounds a search.
type Options struct {
	// MaxResults caps the merged output. Zero or negative yields no results.
	MaxResults int

	// MinScore drops fused results scoring below it.
	MinScore float64
}

// DefaultOptions returns MaxResults 10 and no score floor.
func DefaultOptions() Options {
	return Options{MaxResults: DefaultMaxResults}
}

// HybridConfig holds the source weights used by the weighted strategy.
type HybridConfig struct {
	VectorWeight float64
	TextWeight   float64
}

// DefaultHybridConfig returns the 0.7 vector / 0.3 keyword split.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		VectorWeight: DefaultVectorWeight,
		TextWeight:   DefaultTextWeight,
	}
}

// Strategy selects the fusion algorithm.
type Strategy string

const (
	StrategyWeighted Strategy = "weighted"
	StrategyRRF      Strategy = "rrf"
)

// ParseStrategy maps a config or flag value to a Strategy. Empty means weighted.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyWeighted:
		return StrategyWeighted, nil
	case StrategyRRF:
		return StrategyRRF, nil
	default:
		return "", fmt.Errorf("unknown fusion strategy %q (want weighted or rrf)", s)
	}
}

// RankedItem is one entry of a ranked list given to RRF.
type RankedItem struct {
	Rank   int // 1-indexed
	Weight float64
}
