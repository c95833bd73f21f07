package errors

import (
	stderrors "errors"
	"fmt"
)

// HybridError is the structured error type for hybridsearch.
// It carries a stable code, a user-facing suggestion and the underlying cause.
type HybridError struct {
	Code       string
	Message    string
	Category   Category
	Severity   Severity
	Details    map[string]string
	Cause      error
	Retryable  bool
	Suggestion string
}

// Error implements the error interface.
func (e *HybridError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *HybridError) Unwrap() error {
	return e.Cause
}

// Is matches another *HybridError by code, so errors.Is(err, New(code, "", nil)) works.
func (e *HybridError) Is(target error) bool {
	if t, ok := target.(*HybridError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *HybridError) WithDetail(key, value string) *HybridError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *HybridError) WithSuggestion(suggestion string) *HybridError {
	e.Suggestion = suggestion
	return e
}

// New creates a HybridError. Category, severity and retryability derive from the code.
func New(code string, message string, cause error) *HybridError {
	return &HybridError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a HybridError from an existing error, reusing its message.
func Wrap(code string, err error) *HybridError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *HybridError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *HybridError {
	return New(ErrCodeFileNotFound, message, cause)
}

// NetworkError creates a retryable network error.
func NetworkError(message string, cause error) *HybridError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *HybridError {
	return New(ErrCodeInvalidInput, message, cause)
}

// As returns the first *HybridError in err's chain.
func As(err error) (*HybridError, bool) {
	var he *HybridError
	if stderrors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// IsRetryable reports whether any HybridError in err's chain is retryable.
func IsRetryable(err error) bool {
	he, ok := As(err)
	return ok && he.Retryable
}

// GetCode returns the code of the first HybridError in err's chain, or "".
func GetCode(err error) string {
	if he, ok := As(err); ok {
		return he.Code
	}
	return ""
}
