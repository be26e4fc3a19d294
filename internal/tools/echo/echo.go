// Package echo implements the connectivity test tool.
package echo

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/mcpkit/internal/tools"
)

// Tool returns its message prefixed with "Echo: ".
type Tool struct{}

// New creates the echo tool.
func New() *Tool { return &Tool{} }

func (t *Tool) Name() string        { return "echo" }
func (t *Tool) Description() string { return "Echo back the provided message" }
func (t *Tool) Definition() mcp.Tool {
	return tools.NewDefinition(t.Name(), t.Description(),
		mcp.WithString("message", mcp.Required(), mcp.Description("Message to echo back")),
	)
}

func (t *Tool) Execute(_ context.Context, params map[string]any) (any, error) {
	msg, err := tools.RequireString(params, "message")
	if err != nil {
		return nil, err
	}
	return "Echo: " + msg, nil
}
