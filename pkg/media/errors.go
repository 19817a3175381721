package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for media operations.
var (
	// ErrInputNotFound indicates the input file does not exist.
	ErrInputNotFound = errors.New("input not found")

	// ErrSourceOpenFailed indicates the decoder could not open or parse the input.
	ErrSourceOpenFailed = errors.New("source open failed")

	// ErrToolMissing indicates the external binary is not on the execution path.
	ErrToolMissing = errors.New("tool missing")

	// ErrToolFailed indicates the external process exited non-zero.
	ErrToolFailed = errors.New("tool failed")

	// ErrOutputMissing indicates the process reported success but produced no artifact.
	ErrOutputMissing = errors.New("output missing")

	// ErrPipeWriteFailed indicates the encoder input pipe closed or errored mid-stream.
	ErrPipeWriteFailed = errors.New("pipe write failed")

	// ErrInvalidOperation indicates an unrecognized job operation.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrCanceled indicates the run was stopped by its context.
	ErrCanceled = errors.New("canceled")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInputNotFound, "InputNotFound"},
	{ErrSourceOpenFailed, "SourceOpenFailed"},
	{ErrToolMissing, "ToolMissing"},
	{ErrToolFailed, "ToolFailed"},
	{ErrOutputMissing, "OutputMissing"},
	{ErrPipeWriteFailed, "PipeWriteFailed"},
	{ErrInvalidOperation, "InvalidOperation"},
	{ErrCanceled, "Canceled"},
}

// Error wraps a media failure with the operation and tool context.
type Error struct {
	// Op is the step that failed (e.g., "probe", "encode", "rescale").
	Op string

	// Tool is the external binary involved, if any.
	Tool string

	// Path is the file the step was working on, if any.
	Path string

	// Err is one of the sentinel errors above.
	Err error

	// Detail carries diagnostics such as the tail of the tool's stderr.
	Detail string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Tool != "" {
		b.WriteString(" (")
		b.WriteString(e.Tool)
		b.WriteString(")")
	}
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if d := strings.TrimSpace(e.Detail); d != "" {
		b.WriteString(": ")
		b.WriteString(d)
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Code returns the taxonomy name for err ("InputNotFound", "ToolMissing", ...).
//
// Context cancellation maps to "Canceled"; anything unclassified is
// "Internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Canceled"
	}
	return "Internal"
}

// Reason formats err as a human-readable failure reason prefixed by its code.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return Code(err) + ": " + err.Error()
}

// IsInputNotFound returns true if the input file was missing.
func IsInputNotFound(err error) bool {
	return errors.Is(err, ErrInputNotFound)
}

// IsToolMissing returns true if the external binary was not found.
func IsToolMissing(err error) bool {
	return errors.Is(err, ErrToolMissing)
}

// IsToolFailed returns true if the external process exited non-zero.
func IsToolFailed(err error) bool {
	return errors.Is(err, ErrToolFailed)
}

// IsOutputMissing returns true if no artifact was produced.
func IsOutputMissing(err error) bool {
	return errors.Is(err, ErrOutputMissing)
}
