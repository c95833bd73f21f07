// Package mcp exposes the search engine over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
	"github.com/Aman-CERP/hybridsearch/internal/search"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexNotReady indicates the engine is closed or not initialized.
	ErrCodeIndexNotReady = -32001

	// ErrCodeEmbeddingFailed indicates the query could not be embedded.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates a document no longer exists on disk.
	ErrCodeFileNotFound = -32004

	// ErrCodeIndexBusy indicates another process holds the index lock.
	ErrCodeIndexBusy = -32005

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a protocol error with a code and a client-facing message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts engine errors to MCP errors. A nil error maps to nil.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, search.ErrClosed):
		return &MCPError{Code: ErrCodeIndexNotReady, Message: "Search engine is closed."}
	}

	if he, ok := hserrors.As(err); ok {
		return mapHybridError(he)
	}
	return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

func mapHybridError(he *hserrors.HybridError) *MCPError {
	message := he.Message
	if he.Suggestion != "" {
		message = he.Message + ". " + he.Suggestion
	}

	switch he.Code {
	case hserrors.ErrCodeFileNotFound:
		return &MCPError{Code: ErrCodeFileNotFound, Message: message}
	case hserrors.ErrCodeIndexLocked:
		return &MCPError{Code: ErrCodeIndexBusy, Message: message}
	case hserrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	}

	switch he.Category {
	case hserrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case hserrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
