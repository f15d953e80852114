package ux

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

func TestNewErrorWithSuggestion(t *testing.T) {
	assert.Nil(t, NewErrorWithSuggestion(nil, "ignored"))

	err := NewErrorWithSuggestion(stderrors.New("something failed"), "try this fix")
	assert.Equal(t, "something failed\n\nSuggestion: try this fix", err.Error())

	plain := NewErrorWithSuggestion(stderrors.New("something failed"), "")
	assert.Equal(t, "something failed", plain.Error())
}

func TestErrorWithSuggestionUnwrap(t *testing.T) {
	cause := stderrors.New("root")
	err := NewErrorWithSuggestion(cause, "fix")
	assert.True(t, stderrors.Is(err, cause))
}

func TestEnhanceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"connection refused", stderrors.New("dial tcp 127.0.0.1:5000: connect: connection refused"), "api_url"},
		{"unknown host", stderrors.New("dial tcp: lookup backend: no such host"), "api_url"},
		{"permissions", stderrors.New("open /home/ana/.bodega/credentials.json: permission denied"), "0600"},
		{"timeout", stderrors.New("context deadline exceeded"), "request_timeout"},
		{"no terminal", stderrors.New("prompt failed: could not open a new TTY"), "--email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enhanced := EnhanceError(tt.err)
			var ws *ErrorWithSuggestion
			if assert.True(t, stderrors.As(enhanced, &ws)) {
				assert.Contains(t, ws.Suggestion, tt.want)
			}
		})
	}
}

func TestEnhanceErrorLeavesBodegaErrorsAlone(t *testing.T) {
	err := errors.NewNetworkError("GET /auth/me", stderrors.New("connection refused"))
	assert.Same(t, err, EnhanceError(err))
}

func TestEnhanceErrorUnknown(t *testing.T) {
	err := stderrors.New("something else")
	assert.Equal(t, err, EnhanceError(err))
	assert.Nil(t, EnhanceError(nil))
}

func TestFormatError(t *testing.T) {
	assert.Nil(t, FormatError(nil, "ctx"))

	err := FormatError(errors.NewNotAuthenticatedError(), "showing status")
	assert.True(t, strings.HasPrefix(err.Error(), "showing status: "))
	assert.True(t, stderrors.Is(err, errors.ErrNotAuthenticated))
}

func TestRenderBodegaError(t *testing.T) {
	err := fmt.Errorf("fetching metrics: %w", errors.NewAuthExpiredError("/superadmin/metrics"))

	out := Render(err, true)
	assert.True(t, strings.HasPrefix(out, "Error [AUTH-002]: fetching metrics: session expired"), out)
	assert.Contains(t, out, "Suggestions:")
	assert.Contains(t, out, "bodega auth login")
}

func TestRenderCause(t *testing.T) {
	err := errors.NewNetworkError("GET /auth/me", stderrors.New("connection reset by peer"))

	out := Render(err, true)
	assert.Contains(t, out, "Error [NET-001]: GET /auth/me failed")
	assert.Contains(t, out, "\n  connection reset by peer")
}

func TestRenderPlainError(t *testing.T) {
	assert.Equal(t, "Error: boom", Render(stderrors.New("boom"), true))
	assert.Empty(t, Render(nil, true))

	out := Render(EnhanceError(stderrors.New("connect: connection refused")), true)
	assert.Contains(t, out, "Suggestion: Check api_url")
}
