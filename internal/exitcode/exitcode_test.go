package exitcode

import (
	"errors"
	"fmt"
	"testing"

	bodegaerrors "github.com/felixgeelhaar/bodega/internal/errors"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected int
	}{
		{"Success", Success, 0},
		{"GeneralError", GeneralError, 1},
		{"UsageError", UsageError, 2},
		{"ConfigError", ConfigError, 3},
		{"Interrupted", Interrupted, 4},
		{"AuthError", AuthError, 5},
		{"NetworkError", NetworkError, 6},
		{"ValidationError", ValidationError, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.expected {
				t.Errorf("Exit code %s = %d, want %d", tt.name, tt.code, tt.expected)
			}
		})
	}
}

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "nil error returns success",
			err:      nil,
			expected: Success,
		},
		{
			name:     "auth expired",
			err:      bodegaerrors.NewAuthExpiredError("/items"),
			expected: AuthError,
		},
		{
			name:     "wrapped decode failure",
			err:      fmt.Errorf("login: %w", bodegaerrors.NewDecodeFailure("no role claim", nil)),
			expected: AuthError,
		},
		{
			name:     "not authenticated",
			err:      bodegaerrors.NewNotAuthenticatedError(),
			expected: AuthError,
		},
		{
			name:     "network failure",
			err:      bodegaerrors.NewNetworkError("GET /auth/me", errors.New("connection refused")),
			expected: NetworkError,
		},
		{
			name:     "validation error",
			err:      bodegaerrors.NewValidationError(400, "invalid credentials"),
			expected: ValidationError,
		},
		{
			name:     "config error",
			err:      bodegaerrors.NewConfigInvalidError("api_url is required"),
			expected: ConfigError,
		},
		{
			name:     "unknown flag",
			err:      errors.New("unknown flag: --nope"),
			expected: UsageError,
		},
		{
			name:     "invalid flag value",
			err:      errors.New(`invalid argument "xml" for --format: must be one of text, json, yaml`),
			expected: UsageError,
		},
		{
			name:     "missing required flag",
			err:      errors.New(`required flag(s) "email" not set`),
			expected: UsageError,
		},
		{
			name:     "plain error",
			err:      errors.New("something broke"),
			expected: GeneralError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExitCode(tt.err); got != tt.expected {
				t.Errorf("DetermineExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	if got := GetExitCodeDescription(AuthError); got != "Authentication error" {
		t.Errorf("unexpected description: %s", got)
	}
	if got := GetExitCodeDescription(99); got != "Unknown error" {
		t.Errorf("unexpected description: %s", got)
	}
}
