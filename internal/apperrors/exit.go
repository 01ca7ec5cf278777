package apperrors

import (
	"context"
	"errors"
)

// Process exit codes for the CLI.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitUsage         = 2
	ExitNotFound      = 3
	ExitConflict      = 4
	ExitPreprocessing = 5
	ExitUnimplemented = 6
	ExitInterrupted   = 130
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, ErrValidation):
		return ExitUsage
	case errors.Is(err, ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ErrConflict):
		return ExitConflict
	case errors.Is(err, ErrPreprocessing):
		return ExitPreprocessing
	case errors.Is(err, ErrUnimplemented):
		return ExitUnimplemented
	default:
		return ExitFailure
	}
}
