// Package sandbox runs external commands with a hard wall-clock bound and
// captures their output into a structured result.
package sandbox

import (
	"context"
	"strings"
	"time"

	"github.com/jkaninda/mcpkit/internal/toolerr"
)

// Sandbox executes commands in an isolated environment.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	// Command is the program and arguments to execute (e.g. ["ls", "-la"]).
	// It is never interpreted by a shell.
	Command []string

	// WorkingDir sets the working directory. Empty = current directory.
	WorkingDir string

	// Env adds extra environment variables on top of the inherited environment.
	Env map[string]string

	// Timeout overrides the sandbox default. Zero = use default.
	Timeout time.Duration
}

// ExecutionResult captures the outcome of a command that ran to completion.
// A non-zero exit code is a result, not an error.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Success  bool
	Duration time.Duration
}

// validate rejects requests without an executable.
func validate(req ExecutionRequest) error {
	if len(req.Command) == 0 || strings.TrimSpace(req.Command[0]) == "" {
		return toolerr.ErrEmptyCommand
	}
	return nil
}
