package ux

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

// ErrorWithSuggestion wraps an error with helpful recovery suggestions
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap provides access to the underlying error
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// NewErrorWithSuggestion creates a new error with a suggestion
func NewErrorWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// EnhanceError adds a suggestion to errors that come from outside bodega's
// own taxonomy. BodegaErrors already carry their suggestions.
func EnhanceError(err error) error {
	if err == nil {
		return nil
	}

	var be *errors.BodegaError
	if stderrors.As(err, &be) {
		return err
	}

	errMsg := err.Error()

	switch {
	case strings.Contains(errMsg, "connection refused"), strings.Contains(errMsg, "no such host"):
		return NewErrorWithSuggestion(err,
			"Check api_url with 'bodega config view' and that the backend is running")

	case strings.Contains(errMsg, "permission denied"):
		return NewErrorWithSuggestion(err,
			"Check permissions on ~/.bodega; credentials are kept with mode 0600")

	case strings.Contains(errMsg, "context deadline exceeded"):
		return NewErrorWithSuggestion(err,
			"The backend is slow to respond; raise request_timeout or retry")

	case strings.Contains(errMsg, "prompt failed"), strings.Contains(errMsg, "could not open a new TTY"):
		return NewErrorWithSuggestion(err,
			"Pass --email and --password when running without a terminal")
	}

	return err
}

// FormatError provides consistent error formatting with context
func FormatError(err error, context string) error {
	if err == nil {
		return nil
	}

	enhanced := EnhanceError(err)
	if context != "" {
		return fmt.Errorf("%s: %w", context, enhanced)
	}
	return enhanced
}

// Render formats err for the terminal: code and message on the first line,
// the cause and suggestions below.
func Render(err error, noColor bool) string {
	if err == nil {
		return ""
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	if noColor {
		title = lipgloss.NewStyle()
		muted = lipgloss.NewStyle()
	}

	var be *errors.BodegaError
	if !stderrors.As(err, &be) {
		var ws *ErrorWithSuggestion
		if stderrors.As(err, &ws) && ws.Suggestion != "" {
			return title.Render("Error: ") + ws.Err.Error() + "\n\n" + muted.Render("Suggestion: ") + ws.Suggestion
		}
		return title.Render("Error: ") + err.Error()
	}

	var b strings.Builder
	b.WriteString(title.Render(fmt.Sprintf("Error [%s]: ", be.Code)))
	// keep any context the caller wrapped around the BodegaError
	if full, inner := err.Error(), be.Error(); full != inner && strings.HasSuffix(full, inner) {
		b.WriteString(strings.TrimSuffix(strings.TrimSuffix(full, inner), ": ") + ": ")
	}
	b.WriteString(be.Message)
	if be.Cause != nil {
		b.WriteString("\n  ")
		b.WriteString(muted.Render(be.Cause.Error()))
	}
	if len(be.Suggestions) > 0 {
		b.WriteString("\n\n")
		b.WriteString(muted.Render("Suggestions:"))
		for _, s := range be.Suggestions {
			b.WriteString("\n  • " + s)
		}
	}
	if be.DocsURL != "" {
		b.WriteString("\n\n" + muted.Render("Documentation: ") + be.DocsURL)
	}
	return b.String()
}
