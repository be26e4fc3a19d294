// Package toolerr defines the error taxonomy shared by every exposed operation.
//
// Each kind has a sentinel so callers can use errors.Is; the typed errors below
// carry context and wrap their sentinel.
package toolerr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors, one per kind.
var (
	// ErrPathEscape indicates a resolved path falls outside the workspace root.
	ErrPathEscape = errors.New("path escapes workspace")

	// ErrInvalidPath indicates a path could not be parsed or canonicalized.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotFound indicates the target of a file operation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotAFile indicates the target exists but is not a regular file.
	ErrNotAFile = errors.New("not a file")

	// ErrNotADirectory indicates the target exists but is not a directory.
	ErrNotADirectory = errors.New("not a directory")

	// ErrTooLarge indicates a file or payload exceeds the configured size limit.
	ErrTooLarge = errors.New("too large")

	// ErrEncoding indicates file content is not valid UTF-8 text.
	ErrEncoding = errors.New("invalid utf-8 text")

	// ErrEmptyCommand indicates a command invocation without an executable.
	ErrEmptyCommand = errors.New("empty command")

	// ErrCommandTimeout indicates a subprocess exceeded its wall-clock budget.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrCommandExecutionFailed indicates a subprocess could not be spawned or run.
	ErrCommandExecutionFailed = errors.New("command execution failed")

	// ErrRateLimitExceeded indicates the middleware rejected an invocation.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrUnknownTool indicates an invocation of an operation that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArgument indicates a missing or mistyped invocation argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind names used in logs and metric labels.
const (
	KindPathEscape             = "PathEscape"
	KindInvalidPath            = "InvalidPath"
	KindNotFound               = "NotFound"
	KindNotAFile               = "NotAFile"
	KindNotADirectory          = "NotADirectory"
	KindTooLarge               = "TooLarge"
	KindEncoding               = "EncodingError"
	KindEmptyCommand           = "EmptyCommand"
	KindCommandTimeout         = "CommandTimeout"
	KindCommandExecutionFailed = "CommandExecutionFailed"
	KindRateLimitExceeded      = "RateLimitExceeded"
	KindUnknownTool            = "UnknownTool"
	KindInvalidArgument        = "InvalidArgument"
	KindUnexpected             = "Unexpected"
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrPathEscape, KindPathEscape},
	{ErrInvalidPath, KindInvalidPath},
	{ErrNotFound, KindNotFound},
	{ErrNotAFile, KindNotAFile},
	{ErrNotADirectory, KindNotADirectory},
	{ErrTooLarge, KindTooLarge},
	{ErrEncoding, KindEncoding},
	{ErrEmptyCommand, KindEmptyCommand},
	{ErrCommandTimeout, KindCommandTimeout},
	{ErrCommandExecutionFailed, KindCommandExecutionFailed},
	{ErrRateLimitExceeded, KindRateLimitExceeded},
	{ErrUnknownTool, KindUnknownTool},
	{ErrInvalidArgument, KindInvalidArgument},
}

// KindOf returns the taxonomy name for err, or KindUnexpected when err does not
// wrap any known sentinel. A nil error has no kind.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return KindUnexpected
}

// PathEscapeError is returned when a caller-supplied path resolves outside the root.
type PathEscapeError struct {
	Path     string
	Resolved string
	Root     string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path %q resolves to %q which is outside %s", e.Path, e.Resolved, e.Root)
}

func (e *PathEscapeError) Unwrap() error { return ErrPathEscape }

// TimeoutError is returned when a command is killed after exceeding its timeout.
type TimeoutError struct {
	Command []string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s: %v", e.Timeout, e.Command)
}

func (e *TimeoutError) Unwrap() error { return ErrCommandTimeout }

// ExecutionError is returned when a command cannot be spawned or run to completion.
type ExecutionError struct {
	Command []string
	Cause   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("command execution failed: %v", e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ExecutionError) Unwrap() []error { return []error{ErrCommandExecutionFailed, e.Cause} }

// RateLimitError is returned by the monitoring middleware when a key is over its limit.
type RateLimitError struct {
	Operation string
	ClientID  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Operation)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }
