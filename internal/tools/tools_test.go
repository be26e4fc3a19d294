package tools

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/mcpkit/internal/config"
	"github.com/jkaninda/mcpkit/internal/observability"
	"github.com/jkaninda/mcpkit/internal/toolerr"
)

type stubTool struct {
	name  string
	calls int
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Definition() mcp.Tool {
	return NewDefinition(s.name, s.Description(), mcp.WithString("x", mcp.Required()))
}
func (s *stubTool) Execute(_ context.Context, params map[string]any) (any, error) {
	s.calls++
	return params["x"], nil
}

func newTestRegistry(t *testing.T, mutate func(*config.Config)) *Registry {
	t.Helper()
	cfg := config.Default()
	cfg.MetricsPort = 0
	if mutate != nil {
		mutate(cfg)
	}
	return NewRegistry(observability.New(cfg, observability.WithLogOutput(io.Discard)))
}

func TestRegistry_RegisterAndInvoke(t *testing.T) {
	r := newTestRegistry(t, nil)
	tool := &stubTool{name: "stub"}
	r.Register(tool)

	got, err := r.Invoke(context.Background(), "stub", map[string]any{"x": "value"})
	require.NoError(t, err)
	assert.Equal(t, "value", got)
	assert.Equal(t, 1, tool.calls)
	assert.Same(t, tool, r.Get("stub"))
	assert.NotNil(t, r.Operation("stub"))
}

func TestRegistry_InvokeUnknown(t *testing.T) {
	r := newTestRegistry(t, nil)

	_, err := r.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, toolerr.ErrUnknownTool)
	assert.Nil(t, r.Get("missing"))
	assert.Nil(t, r.Operation("missing"))
}

func TestRegistry_InvokeIsMonitored(t *testing.T) {
	r := newTestRegistry(t, func(c *config.Config) { c.RateLimit = "1/hour" })
	tool := &stubTool{name: "stub"}
	r.Register(tool)

	_, err := r.Invoke(context.Background(), "stub", map[string]any{"x": 1})
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), "stub", map[string]any{"x": 2})
	assert.ErrorIs(t, err, toolerr.ErrRateLimitExceeded)
	assert.Equal(t, 1, tool.calls)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := newTestRegistry(t, nil)
	r.Register(&stubTool{name: "dup"})
	assert.Panics(t, func() { r.Register(&stubTool{name: "dup"}) })
}

func TestRegistry_ListSorted(t *testing.T) {
	r := newTestRegistry(t, nil)
	for _, name := range []string{"write_file", "echo", "read_file"} {
		r.Register(&stubTool{name: name})
	}

	assert.Equal(t, []string{"echo", "read_file", "write_file"}, r.List())
	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "echo", all[0].Name())
}

func TestNewDefinition_AddsClientID(t *testing.T) {
	def := (&stubTool{name: "stub"}).Definition()

	assert.Equal(t, "stub", def.Name)
	assert.Contains(t, def.InputSchema.Properties, "client_id")
	assert.Contains(t, def.InputSchema.Properties, "x")
	assert.Contains(t, def.InputSchema.Required, "x")
	assert.NotContains(t, def.InputSchema.Required, "client_id")
}

func TestRequireString(t *testing.T) {
	s, err := RequireString(map[string]any{"k": ""}, "k")
	require.NoError(t, err)
	assert.Equal(t, "", s)

	_, err = RequireString(map[string]any{}, "k")
	assert.ErrorIs(t, err, toolerr.ErrInvalidArgument)

	_, err = RequireString(map[string]any{"k": 3}, "k")
	assert.ErrorIs(t, err, toolerr.ErrInvalidArgument)
}

func TestOptionalString(t *testing.T) {
	s, err := OptionalString(map[string]any{}, "dir", ".")
	require.NoError(t, err)
	assert.Equal(t, ".", s)

	s, err = OptionalString(map[string]any{"dir": ""}, "dir", ".")
	require.NoError(t, err)
	assert.Equal(t, ".", s)

	s, err = OptionalString(map[string]any{"dir": "src"}, "dir", ".")
	require.NoError(t, err)
	assert.Equal(t, "src", s)

	_, err = OptionalString(map[string]any{"dir": true}, "dir", ".")
	assert.ErrorIs(t, err, toolerr.ErrInvalidArgument)
}

func TestOptionalInt(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{nil, 7, false},
		{float64(42), 42, false},
		{float64(1.5), 0, true},
		{42, 42, false},
		{int64(42), 42, false},
		{json.Number("12"), 12, false},
		{"9", 9, false},
		{"nine", 0, true},
		{true, 0, true},
	}
	for _, tt := range tests {
		params := map[string]any{}
		if tt.in != nil {
			params["n"] = tt.in
		}
		got, err := OptionalInt(params, "n", 7)
		if tt.wantErr {
			assert.ErrorIs(t, err, toolerr.ErrInvalidArgument, "input %v", tt.in)
			continue
		}
		require.NoError(t, err, "input %v", tt.in)
		assert.Equal(t, tt.want, got, "input %v", tt.in)
	}
}

func TestOptionalBool(t *testing.T) {
	b, err := OptionalBool(map[string]any{}, "f", true)
	require.NoError(t, err)
	assert.True(t, b)

	b, err = OptionalBool(map[string]any{"f": false}, "f", true)
	require.NoError(t, err)
	assert.False(t, b)

	b, err = OptionalBool(map[string]any{"f": "false"}, "f", true)
	require.NoError(t, err)
	assert.False(t, b)

	_, err = OptionalBool(map[string]any{"f": 1}, "f", true)
	assert.ErrorIs(t, err, toolerr.ErrInvalidArgument)
}
