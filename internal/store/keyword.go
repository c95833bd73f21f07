package store

import (
	"context"
	"regexp"
	"strings"
)

// Keyword index implementations.
const (
	KeywordIndexFTS5  = "fts5"
	KeywordIndexBleve = "bleve"
)

// Document is a unit of text handed to a keyword index.
type Document struct {
	ID      string // Chunk ID
	Content string
}

// KeywordHit is a single keyword index match. Higher Score is better.
type KeywordHit struct {
	ID    string
	Score float64
}

// KeywordIndex provides lexical search over chunk content.
type KeywordIndex interface {
	Search(ctx context.Context, query string, limit int) ([]*KeywordHit, error)
	Close() error
}

// DocumentIndex is a keyword index stored outside the chunks database.
// SQLiteStorage writes to it alongside every chunk change.
type DocumentIndex interface {
	KeywordIndex
	// Index adds or replaces documents.
	Index(ctx context.Context, docs []*Document) error
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// queryTerms extracts lowercase word terms from free text. Operators and
// punctuation are dropped so user input can never form invalid query syntax.
func queryTerms(query string) []string {
	return termPattern.FindAllString(strings.ToLower(query), -1)
}

// ftsMatchQuery builds an FTS5 MATCH expression: all terms required, each
// quoted, the last one as a prefix so partially typed words still match.
func ftsMatchQuery(query string) string {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	quoted[len(quoted)-1] += "*"
	return strings.Join(quoted, " AND ")
}
