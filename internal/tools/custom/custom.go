// Package custom builds tools from the custom_tools configuration section.
// Each tool runs a fixed argv through the sandbox, with {{param}}
// placeholders filled from the call's arguments. Nothing is passed to a shell.
package custom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/mcpkit/internal/config"
	"github.com/jkaninda/mcpkit/internal/sandbox"
	"github.com/jkaninda/mcpkit/internal/toolerr"
	"github.com/jkaninda/mcpkit/internal/tools"
	"github.com/jkaninda/mcpkit/internal/tools/shell"
	"github.com/jkaninda/mcpkit/internal/workspace"
)

// Tool is a config-declared command exposed as an MCP tool.
type Tool struct {
	def     config.CustomTool
	ws      *workspace.Workspace
	sandbox sandbox.Sandbox
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a custom tool. maxTimeout caps the tool's own timeout.
func New(def config.CustomTool, ws *workspace.Workspace, sbx sandbox.Sandbox, maxTimeout time.Duration, logger *slog.Logger) *Tool {
	timeout := maxTimeout
	if own := time.Duration(def.Timeout) * time.Second; own > 0 && (timeout <= 0 || own < timeout) {
		timeout = own
	}
	return &Tool{def: def, ws: ws, sandbox: sbx, timeout: timeout, logger: logger}
}

func (t *Tool) Name() string { return t.def.Name }

func (t *Tool) Description() string {
	if t.def.Description != "" {
		return t.def.Description
	}
	return "Custom tool: " + t.def.Name
}

func (t *Tool) Definition() mcp.Tool {
	names := make([]string, 0, len(t.def.Parameters))
	for name := range t.def.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]mcp.ToolOption, 0, len(names))
	for _, name := range names {
		p := t.def.Parameters[name]
		popts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			popts = append(popts, mcp.Required())
		}
		switch p.Type {
		case "number":
			opts = append(opts, mcp.WithNumber(name, popts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(name, popts...))
		default:
			opts = append(opts, mcp.WithString(name, popts...))
		}
	}
	return tools.NewDefinition(t.Name(), t.Description(), opts...)
}

// Execute fills the command template and runs it in the configured directory.
// As with run_shell_command, a non-zero exit is reported in the result.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (any, error) {
	argv, err := t.argv(params)
	if err != nil {
		return nil, err
	}
	dir := t.def.Directory
	if dir == "" {
		dir = "."
	}
	resolved, err := shell.ResolveDir(t.ws, dir)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "custom tool executing",
		slog.String("tool", t.def.Name),
		slog.Any("argv", argv),
		slog.String("directory", resolved),
		slog.Duration("timeout", t.timeout),
	)

	result, err := t.sandbox.Execute(ctx, sandbox.ExecutionRequest{
		Command:    argv,
		WorkingDir: resolved,
		Timeout:    t.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox execution: %w", err)
	}
	return shell.NewResult(argv, resolved, result), nil
}

// argv substitutes arguments into the command template. An element that is
// exactly one placeholder is dropped when that optional argument is absent.
func (t *Tool) argv(params map[string]any) ([]string, error) {
	values := make(map[string]string, len(t.def.Parameters))
	for name, p := range t.def.Parameters {
		v, ok := params[name]
		if !ok || v == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: missing required parameter %s", toolerr.ErrInvalidArgument, name)
			}
			continue
		}
		s, err := formatArg(name, p.Type, v)
		if err != nil {
			return nil, err
		}
		values[name] = s
	}

	pairs := make([]string, 0, 2*len(values))
	for name, v := range values {
		pairs = append(pairs, "{{"+name+"}}", v)
	}
	fill := strings.NewReplacer(pairs...)

	argv := make([]string, 0, len(t.def.Command))
	for _, elem := range t.def.Command {
		if name, ok := placeholder(elem); ok {
			if _, declared := t.def.Parameters[name]; declared {
				if v, set := values[name]; set {
					argv = append(argv, v)
				}
				continue
			}
		}
		argv = append(argv, fill.Replace(elem))
	}
	return argv, nil
}

func placeholder(elem string) (string, bool) {
	if strings.HasPrefix(elem, "{{") && strings.HasSuffix(elem, "}}") && len(elem) > 4 {
		return elem[2 : len(elem)-2], true
	}
	return "", false
}

func formatArg(name, typ string, v any) (string, error) {
	switch typ {
	case "number":
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(n), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		case json.Number:
			return n.String(), nil
		}
		return "", fmt.Errorf("%w: parameter %s must be a number, got %T", toolerr.ErrInvalidArgument, name, v)
	case "boolean":
		b, err := tools.OptionalBool(map[string]any{name: v}, name, false)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		return tools.RequireString(map[string]any{name: v}, name)
	}
}
