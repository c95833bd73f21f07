package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/search"
	"github.com/Aman-CERP/hybridsearch/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "hybridsearch"

// Engine is the part of search.Engine the server uses.
type Engine interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
	SearchVector(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
	SearchKeyword(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
	ReadFile(ctx context.Context, path string, from, lines int) (*search.ReadResult, error)
	Status(ctx context.Context) (*search.Status, error)
	Sync(ctx context.Context) (*index.SyncReport, error)
}

var _ Engine = (*search.Engine)(nil)

// searchFunc is one of the Engine search methods.
type searchFunc func(ctx context.Context, query string, opts search.Options) ([]search.Result, error)

// Server bridges MCP clients and the search engine.
type Server struct {
	mcp      *mcp.Server
	engine   Engine
	root     string
	defaults search.Options
	logger   *slog.Logger
}

// NewServer creates a server for the engine indexing root. defaults supplies
// MaxResults and MinScore when a tool call omits them.
func NewServer(engine Engine, root string, defaults search.Options) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("search engine: %w", search.ErrNilDependency)
	}
	if defaults.MaxResults <= 0 {
		defaults.MaxResults = search.DefaultMaxResults
	}

	s := &Server{
		engine:   engine,
		root:     root,
		defaults: defaults,
		logger:   slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// Serve runs the server on stdio until ctx is done or the client disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("root", s.root), slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// CallTool invokes a tool by name with JSON-style arguments and returns its
// markdown text. Used by tests and by clients that do not speak MCP.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolSearch, ToolSearchVector, ToolSearchKeyword:
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		out, err := s.handleSearch(ctx, name, in)
		if err != nil {
			return "", err
		}
		return FormatSearchResults(in.Query, out.Results), nil

	case ToolReadFile:
		var in ReadFileInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		out, err := s.handleReadFile(ctx, in)
		if err != nil {
			return "", err
		}
		return FormatReadResult(*out), nil

	case ToolStatus:
		out, err := s.handleStatus(ctx)
		if err != nil {
			return "", err
		}
		return formatStatusOutput(out), nil

	case ToolSync:
		out, err := s.handleSync(ctx)
		if err != nil {
			return "", err
		}
		return FormatSyncReport(*out), nil

	default:
		return "", NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError("invalid arguments: " + err.Error())
	}
	return nil
}

func (s *Server) searchFor(tool string) searchFunc {
	switch tool {
	case ToolSearchVector:
		return s.engine.SearchVector
	case ToolSearchKeyword:
		return s.engine.SearchKeyword
	default:
		return s.engine.Search
	}
}

func (s *Server) handleSearch(ctx context.Context, tool string, in SearchInput) (SearchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	if in.MinScore < 0 || in.MinScore > 1 {
		return SearchOutput{}, NewInvalidParamsError("min_score must be between 0 and 1")
	}

	opts := search.Options{
		MaxResults: clampLimit(in.Limit, s.defaults.MaxResults, maxLimit),
		MinScore:   s.defaults.MinScore,
	}
	if in.MinScore > 0 {
		opts.MinScore = in.MinScore
	}

	start := time.Now()
	requestID := generateRequestID()
	results, err := s.searchFor(tool)(ctx, in.Query, opts)
	if err != nil {
		s.logger.Warn("tool_search_failed",
			slog.String("request_id", requestID),
			slog.String("tool", tool),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return SearchOutput{}, MapError(err)
	}

	s.logger.Info("tool_search_completed",
		slog.String("request_id", requestID),
		slog.String("tool", tool),
		slog.Int("limit", opts.MaxResults),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))
	if results == nil {
		results = []search.Result{}
	}
	return SearchOutput{Results: results}, nil
}

func (s *Server) handleReadFile(ctx context.Context, in ReadFileInput) (*search.ReadResult, error) {
	if strings.TrimSpace(in.Path) == "" {
		return nil, NewInvalidParamsError("path is required")
	}
	if in.From < 0 || in.Lines < 0 {
		return nil, NewInvalidParamsError("from and lines must be non-negative")
	}
	out, err := s.engine.ReadFile(ctx, in.Path, in.From, in.Lines)
	if err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func (s *Server) handleStatus(ctx context.Context) (*StatusOutput, error) {
	st, err := s.engine.Status(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	return &StatusOutput{
		Root:        s.root,
		Files:       st.Files,
		Chunks:      st.Chunks,
		Provider:    st.Provider,
		Model:       st.Model,
		StorageType: st.StorageType,
	}, nil
}

func (s *Server) handleSync(ctx context.Context) (*SyncOutput, error) {
	report, err := s.engine.Sync(ctx)
	if err != nil {
		s.logger.Warn("tool_sync_failed", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return report, nil
}

func formatStatusOutput(out *StatusOutput) string {
	return FormatStatus(out.Root, search.Status{
		Files:       out.Files,
		Chunks:      out.Chunks,
		Provider:    out.Provider,
		Model:       out.Model,
		StorageType: out.StorageType,
	})
}

func (s *Server) registerTools() {
	desc := make(map[string]string, len(tools))
	for _, t := range tools {
		desc[t.Name] = t.Description
	}

	for _, name := range []string{ToolSearch, ToolSearchVector, ToolSearchKeyword} {
		tool := name
		mcp.AddTool(s.mcp, &mcp.Tool{Name: tool, Description: desc[tool]},
			func(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
				out, err := s.handleSearch(ctx, tool, in)
				if err != nil {
					return nil, SearchOutput{}, err
				}
				return textResult(FormatSearchResults(in.Query, out.Results)), out, nil
			})
	}

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolReadFile, Description: desc[ToolReadFile]},
		func(ctx context.Context, _ *mcp.CallToolRequest, in ReadFileInput) (*mcp.CallToolResult, *search.ReadResult, error) {
			out, err := s.handleReadFile(ctx, in)
			if err != nil {
				return nil, nil, err
			}
			return textResult(FormatReadResult(*out)), out, nil
		})

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolStatus, Description: desc[ToolStatus]},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusOutput, error) {
			out, err := s.handleStatus(ctx)
			if err != nil {
				return nil, nil, err
			}
			return textResult(formatStatusOutput(out)), out, nil
		})

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSync, Description: desc[ToolSync]},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ SyncInput) (*mcp.CallToolResult, *SyncOutput, error) {
			out, err := s.handleSync(ctx)
			if err != nil {
				return nil, nil, err
			}
			return textResult(FormatSyncReport(*out)), out, nil
		})

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func generateRequestID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}
