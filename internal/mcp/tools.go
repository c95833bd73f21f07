package mcp

import (
	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/search"
)

// Tool names.
const (
	ToolSearch        = "search"
	ToolSearchVector  = "search_vector"
	ToolSearchKeyword = "search_keyword"
	ToolReadFile      = "read_file"
	ToolStatus        = "status"
	ToolSync          = "sync"
)

// maxLimit caps the results a client may request.
const maxLimit = 50

// SearchInput is the input of the three search tools.
type SearchInput struct {
	Query    string  `json:"query" jsonschema:"the search query"`
	Limit    int     `json:"limit,omitempty" jsonschema:"maximum number of results (default from config, max 50)"`
	MinScore float64 `json:"min_score,omitempty" jsonschema:"drop results scoring below this value (0-1)"`
}

// SearchOutput is the structured result of the search tools.
type SearchOutput struct {
	Results []search.Result `json:"results" jsonschema:"ranked documents, best first"`
}

// ReadFileInput selects a line window of an indexed document.
type ReadFileInput struct {
	Path  string `json:"path" jsonschema:"document path relative to the indexed root"`
	From  int    `json:"from,omitempty" jsonschema:"first line to return, 1-based (default 1)"`
	Lines int    `json:"lines,omitempty" jsonschema:"number of lines to return (default: to end of file)"`
}

// StatusInput takes no parameters.
type StatusInput struct{}

// StatusOutput describes the index.
type StatusOutput struct {
	Root        string `json:"root"`
	Files       int    `json:"files"`
	Chunks      int    `json:"chunks"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	StorageType string `json:"storage_type"`
}

// SyncInput takes no parameters.
type SyncInput struct{}

// SyncOutput is the result of a sync.
type SyncOutput = index.SyncReport

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{ToolSearch, "Hybrid search over the indexed Markdown documents. Combines semantic similarity and keyword matching and returns the best documents with a snippet of the matching section."},
	{ToolSearchVector, "Semantic-only search. Use when the wording of the query may differ from the documents."},
	{ToolSearchKeyword, "Keyword-only full-text search. Use for exact terms, identifiers or error messages."},
	{ToolReadFile, "Read a line range of an indexed document, for example the section around a search hit."},
	{ToolStatus, "Report how many files and chunks are indexed and which embedding model and storage are in use."},
	{ToolSync, "Bring the index up to date with the files on disk. Only changed files are re-embedded."},
}
