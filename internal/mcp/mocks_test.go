package mcp

import (
	"context"

	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/search"
)

// MockEngine implements Engine for testing.
type MockEngine struct {
	SearchFn        func(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
	SearchVectorFn  func(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
	SearchKeywordFn func(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
	ReadFileFn      func(ctx context.Context, path string, from, lines int) (*search.ReadResult, error)
	StatusFn        func(ctx context.Context) (*search.Status, error)
	SyncFn          func(ctx context.Context) (*index.SyncReport, error)

	// Calls records the method and options of each search call.
	Calls []SearchCall
}

// SearchCall is one recorded search.
type SearchCall struct {
	Method string
	Query  string
	Opts   search.Options
}

func (m *MockEngine) record(method, query string, opts search.Options) {
	m.Calls = append(m.Calls, SearchCall{Method: method, Query: query, Opts: opts})
}

func (m *MockEngine) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	m.record("Search", query, opts)
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, opts)
	}
	return []search.Result{}, nil
}

func (m *MockEngine) SearchVector(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	m.record("SearchVector", query, opts)
	if m.SearchVectorFn != nil {
		return m.SearchVectorFn(ctx, query, opts)
	}
	return []search.Result{}, nil
}

func (m *MockEngine) SearchKeyword(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	m.record("SearchKeyword", query, opts)
	if m.SearchKeywordFn != nil {
		return m.SearchKeywordFn(ctx, query, opts)
	}
	return []search.Result{}, nil
}

func (m *MockEngine) ReadFile(ctx context.Context, path string, from, lines int) (*search.ReadResult, error) {
	if m.ReadFileFn != nil {
		return m.ReadFileFn(ctx, path, from, lines)
	}
	return &search.ReadResult{Path: path}, nil
}

func (m *MockEngine) Status(ctx context.Context) (*search.Status, error) {
	if m.StatusFn != nil {
		return m.StatusFn(ctx)
	}
	return &search.Status{}, nil
}

func (m *MockEngine) Sync(ctx context.Context) (*index.SyncReport, error) {
	if m.SyncFn != nil {
		return m.SyncFn(ctx)
	}
	return &index.SyncReport{}, nil
}

var _ Engine = (*MockEngine)(nil)

func ptr(f float64) *float64 { return &f }

func sampleResults() []search.Result {
	return []search.Result{
		{Path: "guide.md", StartLine: 1, EndLine: 12, Score: 0.7, Snippet: "# Guide\nInstall with make.", VectorScore: ptr(1)},
		{Path: "faq.md", StartLine: 5, EndLine: 9, Score: 0.685, Snippet: "Backups run nightly.", VectorScore: ptr(0.55), TextScore: ptr(1)},
	}
}
