package custom

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/mcpkit/internal/config"
	"github.com/jkaninda/mcpkit/internal/sandbox"
	"github.com/jkaninda/mcpkit/internal/toolerr"
	"github.com/jkaninda/mcpkit/internal/tools/shell"
	"github.com/jkaninda/mcpkit/internal/workspace"
)

type recordingSandbox struct {
	last sandbox.ExecutionRequest
}

func (r *recordingSandbox) Execute(_ context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	r.last = req
	return &sandbox.ExecutionResult{Success: true, Stdout: "ok"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	return ws
}

var grepTool = config.CustomTool{
	Name:        "grep_file",
	Description: "Search a file",
	Command:     []string{"grep", "{{ignore_case}}", "-m", "{{max}}", "--", "{{pattern}}", "{{file}}"},
	Parameters: map[string]config.ToolParam{
		"pattern":     {Required: true},
		"file":        {Required: true},
		"max":         {Type: "number", Required: true},
		"ignore_case": {Type: "string"},
	},
}

func TestArgv_Substitution(t *testing.T) {
	rec := &recordingSandbox{}
	tool := New(grepTool, newWorkspace(t), rec, time.Minute, testLogger())

	_, err := tool.Execute(context.Background(), map[string]any{
		"pattern": "a b|c",
		"file":    "notes.txt",
		"max":     float64(3),
	})
	require.NoError(t, err)
	// The absent optional argument is dropped; values are never split.
	assert.Equal(t, []string{"grep", "-m", "3", "--", "a b|c", "notes.txt"}, rec.last.Command)
}

func TestArgv_EmbeddedPlaceholder(t *testing.T) {
	rec := &recordingSandbox{}
	def := config.CustomTool{
		Name:       "greet",
		Command:    []string{"echo", "--name={{who}}", "{{loud}}"},
		Parameters: map[string]config.ToolParam{"who": {}, "loud": {Type: "boolean"}},
	}
	tool := New(def, newWorkspace(t), rec, time.Minute, testLogger())

	_, err := tool.Execute(context.Background(), map[string]any{"who": "{{loud}}", "loud": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "--name={{loud}}", "true"}, rec.last.Command)
}

func TestExecute_ArgumentErrors(t *testing.T) {
	tool := New(grepTool, newWorkspace(t), &recordingSandbox{}, time.Minute, testLogger())

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{"pattern": "x", "max": float64(1)}},
		{"number as string", map[string]any{"pattern": "x", "file": "f", "max": "many"}},
		{"string as number", map[string]any{"pattern": float64(1), "file": "f", "max": float64(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), tt.args)
			require.ErrorIs(t, err, toolerr.ErrInvalidArgument)
		})
	}
}

func TestExecute_TimeoutCappedByServer(t *testing.T) {
	rec := &recordingSandbox{}
	ws := newWorkspace(t)

	own := New(config.CustomTool{Name: "a", Command: []string{"true"}, Timeout: 2}, ws, rec, 30*time.Second, testLogger())
	_, err := own.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, rec.last.Timeout)

	capped := New(config.CustomTool{Name: "b", Command: []string{"true"}, Timeout: 600}, ws, rec, 30*time.Second, testLogger())
	_, err = capped.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, rec.last.Timeout)
}

func TestExecute_Directory(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.Mkdir(filepath.Join(ws.Root, "sub"), 0o750))
	rec := &recordingSandbox{}

	tool := New(config.CustomTool{Name: "ls", Command: []string{"ls"}, Directory: "sub"}, ws, rec, time.Minute, testLogger())
	out, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root, "sub"), rec.last.WorkingDir)
	assert.Equal(t, "ok", out.(*shell.Result).Stdout)

	escape := New(config.CustomTool{Name: "up", Command: []string{"ls"}, Directory: "../.."}, ws, rec, time.Minute, testLogger())
	_, err = escape.Execute(context.Background(), nil)
	require.ErrorIs(t, err, toolerr.ErrPathEscape)
}

func TestExecute_RunsInSandbox(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, "words.txt"), []byte("one two three\n"), 0o640))
	sbx := sandbox.NewProcessSandbox(sandbox.ProcessConfig{DefaultTimeout: 10 * time.Second}, testLogger())

	def := config.CustomTool{
		Name:       "word_count",
		Command:    []string{"wc", "-w", "{{file}}"},
		Parameters: map[string]config.ToolParam{"file": {Required: true}},
	}
	out, err := New(def, ws, sbx, 10*time.Second, testLogger()).Execute(context.Background(), map[string]any{"file": "words.txt"})
	require.NoError(t, err)

	res := out.(*shell.Result)
	assert.True(t, res.Success, res.Stderr)
	assert.Contains(t, res.Stdout, "3")
	assert.Equal(t, "wc -w words.txt", res.Command)
}

func TestDefinition(t *testing.T) {
	tool := New(grepTool, newWorkspace(t), &recordingSandbox{}, time.Minute, testLogger())
	def := tool.Definition()

	assert.Equal(t, "grep_file", def.Name)
	assert.Equal(t, "Search a file", def.Description)
	assert.ElementsMatch(t, []string{"pattern", "file", "max"}, def.InputSchema.Required)
	for _, p := range []string{"pattern", "file", "max", "ignore_case", "client_id"} {
		assert.Contains(t, def.InputSchema.Properties, p)
	}

	bare := New(config.CustomTool{Name: "now", Command: []string{"date"}}, newWorkspace(t), &recordingSandbox{}, time.Minute, testLogger())
	assert.Equal(t, "Custom tool: now", bare.Description())
}
