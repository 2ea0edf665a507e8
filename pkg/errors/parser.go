package errors

import (
	"fmt"
	"strings"
)

// MissingColumnError reports a mandatory field whose column could not be
// resolved from the sheet headers. Missing columns abort the whole batch, so
// the error carries the aliases that were tried and the headers that were
// present to make the fix obvious.
func MissingColumnError(source string, field string, aliases []string, headers []string) *ReconcilerError {
	err := ConfigurationError(CodeMissingColumn, field, nil, nil).
		WithContext("source", source).
		WithContext("aliases", aliases).
		WithContext("headers", headers)

	if len(headers) == 0 {
		return err.WithSuggestion("the sheet has no header row")
	}
	return err.WithSuggestion(fmt.Sprintf(
		"rename one of the columns [%s] to one of [%s]",
		strings.Join(headers, ", "), strings.Join(aliases, ", "),
	))
}

// FormatErrorsForUser renders a list of errors one per line for console
// output.
func FormatErrorsForUser(errs []*ReconcilerError) string {
	if len(errs) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d error(s):\n", len(errs))
	for i, err := range errs {
		fmt.Fprintf(&sb, "%d. [%s/%s] %s\n", i+1, err.Category, err.Code, err.Message)
		if err.Suggestion != "" {
			fmt.Fprintf(&sb, "   suggestion: %s\n", err.Suggestion)
		}
	}
	return sb.String()
}
