package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/search"
)

func newTestServer(t *testing.T, engine *MockEngine) *Server {
	t.Helper()
	srv, err := NewServer(engine, "/docs", search.Options{MaxResults: 10, MinScore: 0.1})
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil, "/docs", search.Options{})
	assert.ErrorIs(t, err, search.ErrNilDependency)
}

func TestNewServer_DefaultsMaxResults(t *testing.T) {
	srv, err := NewServer(&MockEngine{}, "/docs", search.Options{})
	require.NoError(t, err)
	assert.Equal(t, search.DefaultMaxResults, srv.defaults.MaxResults)
	assert.NotNil(t, srv.MCPServer())
}

func TestListTools(t *testing.T) {
	srv := newTestServer(t, &MockEngine{})

	var names []string
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{"search", "search_vector", "search_keyword", "read_file", "status", "sync"}, names)
}

func TestCallTool_SearchModes(t *testing.T) {
	tests := []struct {
		tool   string
		method string
	}{
		{ToolSearch, "Search"},
		{ToolSearchVector, "SearchVector"},
		{ToolSearchKeyword, "SearchKeyword"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			// Given: an engine returning two results
			engine := &MockEngine{
				SearchFn:        func(context.Context, string, search.Options) ([]search.Result, error) { return sampleResults(), nil },
				SearchVectorFn:  func(context.Context, string, search.Options) ([]search.Result, error) { return sampleResults(), nil },
				SearchKeywordFn: func(context.Context, string, search.Options) ([]search.Result, error) { return sampleResults(), nil },
			}
			srv := newTestServer(t, engine)

			// When: calling the tool
			text, err := srv.CallTool(context.Background(), tt.tool, map[string]any{"query": "backups", "limit": float64(3)})

			// Then: the matching engine method ran with the requested limit
			require.NoError(t, err)
			require.Len(t, engine.Calls, 1)
			assert.Equal(t, tt.method, engine.Calls[0].Method)
			assert.Equal(t, "backups", engine.Calls[0].Query)
			assert.Equal(t, search.Options{MaxResults: 3, MinScore: 0.1}, engine.Calls[0].Opts)

			assert.Contains(t, text, `## Results for "backups"`)
			assert.Contains(t, text, "### 1. guide.md (lines 1-12)")
			assert.Contains(t, text, "**Score:** 0.685 (semantic and keyword match)")
		})
	}
}

func TestCallTool_SearchOptions(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want search.Options
	}{
		{"defaults", map[string]any{"query": "q"}, search.Options{MaxResults: 10, MinScore: 0.1}},
		{"clamped limit", map[string]any{"query": "q", "limit": 500}, search.Options{MaxResults: 50, MinScore: 0.1}},
		{"negative limit", map[string]any{"query": "q", "limit": -2}, search.Options{MaxResults: 10, MinScore: 0.1}},
		{"min score", map[string]any{"query": "q", "min_score": 0.4}, search.Options{MaxResults: 10, MinScore: 0.4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &MockEngine{}
			srv := newTestServer(t, engine)

			_, err := srv.CallTool(context.Background(), ToolSearch, tt.args)

			require.NoError(t, err)
			require.Len(t, engine.Calls, 1)
			assert.Equal(t, tt.want, engine.Calls[0].Opts)
		})
	}
}

func TestCallTool_SearchValidation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query", map[string]any{}},
		{"blank query", map[string]any{"query": "   "}},
		{"wrong type", map[string]any{"query": 42}},
		{"min score too high", map[string]any{"query": "q", "min_score": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &MockEngine{}
			srv := newTestServer(t, engine)

			_, err := srv.CallTool(context.Background(), ToolSearch, tt.args)

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
			assert.Empty(t, engine.Calls, "the engine is not called for invalid input")
		})
	}
}

func TestCallTool_NoResults(t *testing.T) {
	srv := newTestServer(t, &MockEngine{})

	text, err := srv.CallTool(context.Background(), ToolSearch, map[string]any{"query": "nothing"})

	require.NoError(t, err)
	assert.Equal(t, `No results found for "nothing".`, text)
}

func TestCallTool_SearchErrorIsMapped(t *testing.T) {
	engine := &MockEngine{
		SearchFn: func(context.Context, string, search.Options) ([]search.Result, error) {
			return nil, hserrors.New(hserrors.ErrCodeEmbeddingFailed, "failed to embed query", errors.New("connection refused"))
		},
	}
	srv := newTestServer(t, engine)

	_, err := srv.CallTool(context.Background(), ToolSearch, map[string]any{"query": "q"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeEmbeddingFailed, mcpErr.Code)
}

func TestCallTool_ReadFile(t *testing.T) {
	engine := &MockEngine{
		ReadFileFn: func(_ context.Context, path string, from, lines int) (*search.ReadResult, error) {
			assert.Equal(t, "guide.md", path)
			assert.Equal(t, 3, from)
			assert.Equal(t, 2, lines)
			return &search.ReadResult{Path: path, Text: "three\nfour", StartLine: 3, EndLine: 4, TotalLines: 10}, nil
		},
	}
	srv := newTestServer(t, engine)

	text, err := srv.CallTool(context.Background(), ToolReadFile, map[string]any{"path": "guide.md", "from": 3, "lines": 2})

	require.NoError(t, err)
	assert.Contains(t, text, "**guide.md** lines 3-4 of 10")
	assert.Contains(t, text, "three\nfour")
}

func TestCallTool_ReadFileErrors(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		_, err := newTestServer(t, &MockEngine{}).CallTool(context.Background(), ToolReadFile, map[string]any{})
		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	})

	t.Run("negative window", func(t *testing.T) {
		_, err := newTestServer(t, &MockEngine{}).CallTool(context.Background(), ToolReadFile,
			map[string]any{"path": "a.md", "from": -1})
		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	})

	t.Run("escaping path", func(t *testing.T) {
		engine := &MockEngine{
			ReadFileFn: func(context.Context, string, int, int) (*search.ReadResult, error) {
				return nil, hserrors.New(hserrors.ErrCodeInvalidPath, search.ErrInvalidPath.Error(), search.ErrInvalidPath)
			},
		}
		_, err := newTestServer(t, engine).CallTool(context.Background(), ToolReadFile, map[string]any{"path": "../etc/passwd"})
		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		engine := &MockEngine{
			ReadFileFn: func(context.Context, string, int, int) (*search.ReadResult, error) {
				return nil, hserrors.IOError("file not found: gone.md", nil)
			},
		}
		_, err := newTestServer(t, engine).CallTool(context.Background(), ToolReadFile, map[string]any{"path": "gone.md"})
		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeFileNotFound, mcpErr.Code)
	})
}

func TestCallTool_Status(t *testing.T) {
	engine := &MockEngine{
		StatusFn: func(context.Context) (*search.Status, error) {
			return &search.Status{Files: 3, Chunks: 12, Provider: "static", Model: "static-256", StorageType: "sqlite"}, nil
		},
	}
	srv := newTestServer(t, engine)

	text, err := srv.CallTool(context.Background(), ToolStatus, nil)

	require.NoError(t, err)
	assert.Contains(t, text, "- **Root:** /docs")
	assert.Contains(t, text, "- **Files:** 3")
	assert.Contains(t, text, "- **Chunks:** 12")
	assert.Contains(t, text, "- **Embedding:** static (static-256)")
}

func TestCallTool_Sync(t *testing.T) {
	t.Run("report", func(t *testing.T) {
		engine := &MockEngine{
			SyncFn: func(context.Context) (*index.SyncReport, error) {
				return &index.SyncReport{Added: 2, Removed: 1, Chunks: 7, Duration: 1500 * time.Millisecond}, nil
			},
		}
		text, err := newTestServer(t, engine).CallTool(context.Background(), ToolSync, nil)

		require.NoError(t, err)
		assert.Equal(t, "Sync complete: 2 added, 0 updated, 1 removed, 0 unchanged, 0 failed (7 chunks written in 1.5s).", text)
	})

	t.Run("locked", func(t *testing.T) {
		engine := &MockEngine{
			SyncFn: func(context.Context) (*index.SyncReport, error) {
				return nil, hserrors.New(hserrors.ErrCodeIndexLocked, "index is locked by another process", nil)
			},
		}
		_, err := newTestServer(t, engine).CallTool(context.Background(), ToolSync, nil)

		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeIndexBusy, mcpErr.Code)
	})
}

func TestCallTool_UnknownTool(t *testing.T) {
	_, err := newTestServer(t, &MockEngine{}).CallTool(context.Background(), "search_code", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_OverMCPProtocol(t *testing.T) {
	// Given: the server connected to a client over in-memory transports
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine := &MockEngine{
		SearchFn: func(context.Context, string, search.Options) ([]search.Result, error) { return sampleResults(), nil },
	}
	srv := newTestServer(t, engine)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	// When: listing tools
	list, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}

	// Then: every tool is advertised
	assert.ElementsMatch(t, []string{"search", "search_vector", "search_keyword", "read_file", "status", "sync"}, names)

	// When: calling search
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": "backups"},
	})

	// Then: both the markdown text and the structured results come back
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "guide.md")

	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out SearchOutput
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Results, 2)
	assert.Equal(t, "faq.md", out.Results[1].Path)

	// When: calling search with a blank query
	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": " "},
	})

	// Then: the call fails as a tool error or a protocol error
	assert.True(t, err != nil || res.IsError)
}
