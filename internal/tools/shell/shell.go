// Package shell implements the run_shell_command tool.
// Commands are split on whitespace and run through the sandbox without a
// shell, so pipes and redirects are passed to the program as literal arguments.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/mcpkit/internal/sandbox"
	"github.com/jkaninda/mcpkit/internal/toolerr"
	"github.com/jkaninda/mcpkit/internal/tools"
	"github.com/jkaninda/mcpkit/internal/workspace"
)

const defaultTimeout = 30 * time.Second

// Result is the run_shell_command response.
type Result struct {
	Command         string  `json:"command"`
	Directory       string  `json:"directory"`
	Stdout          string  `json:"stdout"`
	Stderr          string  `json:"stderr"`
	Success         bool    `json:"success"`
	ReturnCode      int     `json:"return_code"`
	DurationSeconds float64 `json:"duration_seconds"`
	Status          string  `json:"status"`
}

// Tool executes commands inside a workspace directory.
type Tool struct {
	ws      *workspace.Workspace
	sandbox sandbox.Sandbox
	timeout time.Duration
	logger  *slog.Logger
}

// NewTool creates a shell tool that delegates all execution to the given sandbox.
// timeout is the upper bound for every command; callers may only lower it.
func NewTool(ws *workspace.Workspace, sbx sandbox.Sandbox, timeout time.Duration, logger *slog.Logger) *Tool {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Tool{
		ws:      ws,
		sandbox: sbx,
		timeout: timeout,
		logger:  logger,
	}
}

func (t *Tool) Name() string { return "run_shell_command" }
func (t *Tool) Description() string {
	return "Run a command in a workspace directory with a timeout"
}
func (t *Tool) Definition() mcp.Tool {
	return tools.NewDefinition(t.Name(), t.Description(),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command line, split on whitespace (no shell)")),
		mcp.WithString("directory", mcp.Description("Working directory relative to the workspace (default: \".\")")),
		mcp.WithNumber("timeout", mcp.Description("Timeout in seconds; cannot exceed the server limit")),
	)
}

// ResolveDir resolves dir inside the workspace and checks that it is an
// existing directory.
func ResolveDir(ws *workspace.Workspace, dir string) (string, error) {
	resolved, err := ws.Resolve(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: directory %s does not exist", toolerr.ErrNotFound, dir)
		}
		return "", fmt.Errorf("stat %s: %w", resolved, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", toolerr.ErrNotADirectory, dir)
	}
	return resolved, nil
}

// NewResult converts a sandbox result into the tool response.
func NewResult(argv []string, dir string, res *sandbox.ExecutionResult) *Result {
	status := "success"
	if !res.Success {
		status = "failed"
	}
	return &Result{
		Command:         strings.Join(argv, " "),
		Directory:       dir,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		Success:         res.Success,
		ReturnCode:      res.ExitCode,
		DurationSeconds: res.Duration.Seconds(),
		Status:          status,
	}
}

// Execute runs the command through the sandbox.
// A non-zero exit status is reported in the result, not as an error.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (any, error) {
	command, err := tools.RequireString(params, "command")
	if err != nil {
		return nil, err
	}
	dir, err := tools.OptionalString(params, "directory", ".")
	if err != nil {
		return nil, err
	}
	seconds, err := tools.OptionalInt(params, "timeout", 0)
	if err != nil {
		return nil, err
	}

	timeout := t.timeout
	if requested := time.Duration(seconds) * time.Second; requested > 0 && requested < timeout {
		timeout = requested
	}

	resolved, err := ResolveDir(t.ws, dir)
	if err != nil {
		return nil, err
	}

	argv := strings.Fields(command)

	t.logger.InfoContext(ctx, "shell tool executing",
		slog.String("command", command),
		slog.String("directory", resolved),
		slog.Duration("timeout", timeout),
	)

	result, err := t.sandbox.Execute(ctx, sandbox.ExecutionRequest{
		Command:    argv,
		WorkingDir: resolved,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox execution: %w", err)
	}

	return NewResult(argv, resolved, result), nil
}
