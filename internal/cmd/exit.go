package cmd

import (
	"errors"
	"fmt"
)

// Process exit codes (sysexits.h where one fits).
const (
	ExitSuccess            = 0
	ExitFailure            = 1
	ExitUsage              = 64
	ExitDataError          = 65
	ExitServiceUnavailable = 69
	ExitConfigError        = 78
)

// codedError carries the exit code for a failed command.
type codedError struct {
	code int
	msg  string
	err  error
}

func (e *codedError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *codedError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &codedError{code: code, msg: message, err: err}
}

func exitCodeOf(err error) int {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return ExitFailure
}
