// Package server exposes the tool registry over the Model Context Protocol.
//
// Tool calls, the file:// resource and the code_review prompt are bound to an
// mcp-go server and served on the configured transport (stdio, streamable
// HTTP or SSE) until the context is cancelled.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/mcpkit/internal/config"
	"github.com/jkaninda/mcpkit/internal/observability"
	"github.com/jkaninda/mcpkit/internal/toolerr"
	"github.com/jkaninda/mcpkit/internal/tools"
	"github.com/jkaninda/mcpkit/internal/tools/file"
)

const (
	resourceOperation = "read_file_resource"
	resourceScheme    = "file://"
	shutdownTimeout   = 10 * time.Second
)

// Server binds a tool registry to an MCP server.
type Server struct {
	cfg      *config.Config
	registry *tools.Registry
	mcp      *mcpserver.MCPServer
	resource *observability.MonitoredOperation
	logger   *slog.Logger
}

// New creates the MCP server and registers every tool in registry.
// reader backs the file:// resource template.
func New(cfg *config.Config, infra *observability.Infrastructure, registry *tools.Registry, reader *file.ReadTool) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   infra.Logger(),
		mcp: mcpserver.NewMCPServer(cfg.ServerName, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithPromptCapabilities(false),
			mcpserver.WithRecovery(),
			mcpserver.WithInstructions(cfg.Description),
		),
	}

	for _, t := range registry.All() {
		s.mcp.AddTool(t.Definition(), s.toolHandler(t.Name()))
	}

	s.resource = infra.Wrap(resourceOperation, func(ctx context.Context, args map[string]any) (any, error) {
		path, _ := args["path"].(string)
		return reader.Read(ctx, path, 0)
	})
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(resourceScheme+"{path}", "workspace-file",
			mcp.WithTemplateDescription("Read a text file from the workspace"),
			mcp.WithTemplateMIMEType("text/plain"),
		),
		s.readResource,
	)

	s.mcp.AddPrompt(codeReviewPrompt(), handleCodeReview)
	return s
}

// MCP returns the underlying mcp-go server.
func (s *Server) MCP() *mcpserver.MCPServer { return s.mcp }

// toolHandler adapts a registered tool to an MCP handler. Tool failures are
// reported as error results so the session stays alive.
func (s *Server) toolHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := s.registry.Invoke(ctx, name, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", toolerr.KindOf(err), err)), nil
		}
		text, err := render(out)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: encoding result: %v", toolerr.KindUnexpected, err)), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

// render returns strings as-is and everything else as indented JSON.
func render(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Server) readResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	path := strings.TrimPrefix(req.Params.URI, resourceScheme)
	out, err := s.resource.Invoke(ctx, map[string]any{"path": path})
	if err != nil {
		return nil, err
	}
	res := out.(*file.ReadResult)
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     res.Content,
		},
	}, nil
}

// Serve runs the configured transport until ctx is cancelled or the
// transport fails.
func (s *Server) Serve(ctx context.Context) error {
	switch s.cfg.Transport {
	case config.TransportStdio:
		return s.serveStdio(ctx)
	case config.TransportHTTP:
		h := mcpserver.NewStreamableHTTPServer(s.mcp)
		return s.serveHTTP(ctx, h.Start, h.Shutdown)
	case config.TransportSSE:
		h := mcpserver.NewSSEServer(s.mcp, mcpserver.WithBaseURL("http://"+s.cfg.Addr()))
		return s.serveHTTP(ctx, h.Start, h.Shutdown)
	default:
		return fmt.Errorf("unknown transport %q", s.cfg.Transport)
	}
}

func (s *Server) serveStdio(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio")
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio transport: %w", err)
	}
	return nil
}

func (s *Server) serveHTTP(ctx context.Context, start func(string) error, shutdown func(context.Context) error) error {
	addr := s.cfg.Addr()
	s.logger.Info("serving MCP over HTTP",
		slog.String("transport", s.cfg.Transport),
		slog.String("addr", addr),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- start(addr) }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s transport: %w", s.cfg.Transport, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down %s transport: %w", s.cfg.Transport, err)
	}
	return nil
}
