package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/pkg/media"
)

// exitFailure is the generic failure code for errors that carry no
// specific exit code.
const exitFailure = 1

// osExit is replaced in tests.
var osExit = os.Exit

// ExitError is a command failure that selects the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code carried by err. Nil maps to 0 and errors
// without a code map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return exitFailure
}

// ExitWithCode logs the failure and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger != nil {
		logger.Error(message, zap.Int("exit_code", code), zap.Error(err))
	}
	osExit(code)
}

// exitCodeForFailure maps a job failure code to a process exit code.
func exitCodeForFailure(code string) int {
	switch code {
	case media.Code(media.ErrInputNotFound):
		return foundry.ExitFileNotFound
	case media.Code(media.ErrSourceOpenFailed):
		return foundry.ExitFileReadError
	case media.Code(media.ErrOutputMissing), media.Code(media.ErrPipeWriteFailed):
		return foundry.ExitFileWriteError
	case media.Code(media.ErrToolMissing):
		return foundry.ExitExternalServiceUnavailable
	case media.Code(media.ErrInvalidOperation):
		return foundry.ExitInvalidArgument
	case media.Code(media.ErrCanceled):
		return foundry.ExitSignalInt
	default:
		return exitFailure
	}
}
