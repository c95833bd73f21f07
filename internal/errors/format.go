package errors

import (
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	he, ok := As(err)
	if !ok {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", he.Message)
	if he.Cause != nil && he.Cause.Error() != he.Message {
		fmt.Fprintf(&sb, "  Cause: %s\n", he.Cause.Error())
	}
	if he.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", he.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", he.Code)
	return sb.String()
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	he, ok := As(err)
	if !ok {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_code", he.Code),
		slog.String("category", string(he.Category)),
		slog.Bool("retryable", he.Retryable),
	}
	for k, v := range he.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
