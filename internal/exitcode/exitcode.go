package exitcode

import (
	stderrors "errors"
	"os"
	"strings"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// ConfigError indicates the configuration could not be loaded or validated
	ConfigError = 3

	// Interrupted indicates the user cancelled the operation
	Interrupted = 4

	// AuthError indicates the session is missing, expired or rejected
	AuthError = 5

	// NetworkError indicates a network connectivity issue
	NetworkError = 6

	// ValidationError indicates the backend rejected the request
	ValidationError = 7
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}

	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code.
// Typed errors are mapped by code; cobra usage errors are recognised by message.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	var be *errors.BodegaError
	if stderrors.As(err, &be) {
		switch be.Code {
		case errors.ErrCodeDecodeFailure, errors.ErrCodeAuthExpired, errors.ErrCodeNotAuthenticated:
			return AuthError
		case errors.ErrCodeNetwork:
			return NetworkError
		case errors.ErrCodeValidation:
			return ValidationError
		case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigLoad:
			return ConfigError
		}
		return GeneralError
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "unknown flag") || strings.Contains(errMsg, "unknown command") || strings.Contains(errMsg, "invalid argument") {
		return UsageError
	}
	if strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "accepts") && strings.Contains(errMsg, "arg") {
		return UsageError
	}

	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case ConfigError:
		return "Configuration error"
	case Interrupted:
		return "Interrupted"
	case AuthError:
		return "Authentication error"
	case NetworkError:
		return "Network error"
	case ValidationError:
		return "Request rejected by the server"
	default:
		return "Unknown error"
	}
}
