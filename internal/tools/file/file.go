// Package file implements the workspace file tools: list_files, read_file and
// write_file.
//
// Every path is resolved through the workspace before any I/O occurs, so
// traversal and symlink escapes fail with a PathEscape error and never touch
// the filesystem.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/mcpkit/internal/toolerr"
	"github.com/jkaninda/mcpkit/internal/tools"
	"github.com/jkaninda/mcpkit/internal/workspace"
)

// Config configures file tool restrictions.
type Config struct {
	MaxFileSize int64 // Maximum file size for read/write. 0 = 10 MB default.
}

const defaultMaxFileSize = 10 << 20 // 10 MB

const statusSuccess = "success"

func (c Config) maxSize() int64 {
	if c.MaxFileSize > 0 {
		return c.MaxFileSize
	}
	return defaultMaxFileSize
}

// countLines counts lines the way a text editor does: a trailing newline does
// not start a new line and empty content has none.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// statError maps a stat failure onto the error taxonomy.
func statError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s does not exist", toolerr.ErrNotFound, path)
	}
	return fmt.Errorf("stat %s: %w", path, err)
}

// ---- ListTool ----

// FileEntry describes a regular file in a listing.
type FileEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// DirEntry describes a subdirectory in a listing.
type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ListResult is the list_files response.
type ListResult struct {
	Directory        string      `json:"directory"`
	Files            []FileEntry `json:"files"`
	Directories      []DirEntry  `json:"directories"`
	TotalFiles       int         `json:"total_files"`
	TotalDirectories int         `json:"total_directories"`
	Status           string      `json:"status"`
}

// ListTool lists the contents of a workspace directory.
type ListTool struct {
	ws     *workspace.Workspace
	logger *slog.Logger
}

// NewListTool creates the list_files tool.
func NewListTool(ws *workspace.Workspace, logger *slog.Logger) *ListTool {
	return &ListTool{ws: ws, logger: logger}
}

func (t *ListTool) Name() string        { return "list_files" }
func (t *ListTool) Description() string { return "List files and directories inside the workspace" }
func (t *ListTool) Definition() mcp.Tool {
	return tools.NewDefinition(t.Name(), t.Description(),
		mcp.WithString("directory", mcp.Description("Directory relative to the workspace (default: \".\")")),
	)
}

func (t *ListTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	dir, err := tools.OptionalString(params, "directory", ".")
	if err != nil {
		return nil, err
	}
	resolved, err := t.ws.Resolve(dir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, statError(dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", toolerr.ErrNotADirectory, dir)
	}

	t.logger.DebugContext(ctx, "list_files executing", slog.String("path", resolved))

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", resolved, err)
	}

	// ReadDir returns entries sorted by name.
	res := &ListResult{
		Directory:   resolved,
		Files:       []FileEntry{},
		Directories: []DirEntry{},
		Status:      statusSuccess,
	}
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		switch {
		case fi.IsDir():
			res.Directories = append(res.Directories, DirEntry{Name: e.Name(), Type: "directory"})
		case fi.Mode().IsRegular():
			res.Files = append(res.Files, FileEntry{Name: e.Name(), Size: fi.Size(), Type: "file"})
		}
	}
	res.TotalFiles = len(res.Files)
	res.TotalDirectories = len(res.Directories)
	return res, nil
}

// ---- ReadTool ----

// ReadResult is the read_file response.
type ReadResult struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Lines    int    `json:"lines"`
	Encoding string `json:"encoding"`
	Status   string `json:"status"`
}

// ReadTool reads UTF-8 text files inside the workspace.
type ReadTool struct {
	ws     *workspace.Workspace
	config Config
	logger *slog.Logger
}

// NewReadTool creates the read_file tool.
func NewReadTool(ws *workspace.Workspace, cfg Config, logger *slog.Logger) *ReadTool {
	return &ReadTool{ws: ws, config: cfg, logger: logger}
}

func (t *ReadTool) Name() string        { return "read_file" }
func (t *ReadTool) Description() string { return "Read the contents of a text file inside the workspace" }
func (t *ReadTool) Definition() mcp.Tool {
	return tools.NewDefinition(t.Name(), t.Description(),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("File path relative to the workspace")),
		mcp.WithNumber("max_size", mcp.Description("Maximum file size in bytes; capped by the server limit")),
	)
}

func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	path, err := tools.RequireString(params, "file_path")
	if err != nil {
		return nil, err
	}
	limit, err := tools.OptionalInt(params, "max_size", 0)
	if err != nil {
		return nil, err
	}
	return t.Read(ctx, path, limit)
}

// Read resolves path inside the workspace and returns its text content.
// A positive limit lowers the configured maximum size, it never raises it.
func (t *ReadTool) Read(ctx context.Context, path string, limit int64) (*ReadResult, error) {
	resolved, err := t.ws.Resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, statError(path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", toolerr.ErrNotAFile, path)
	}

	maxBytes := t.config.maxSize()
	if limit > 0 && limit < maxBytes {
		maxBytes = limit
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes (max: %d)", toolerr.ErrTooLarge, path, info.Size(), maxBytes)
	}

	t.logger.DebugContext(ctx, "read_file executing",
		slog.String("path", resolved),
		slog.Int64("size", info.Size()),
	)

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", resolved, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s", toolerr.ErrEncoding, path)
	}

	content := string(data)
	return &ReadResult{
		FilePath: resolved,
		Content:  content,
		Size:     int64(len(data)),
		Lines:    countLines(content),
		Encoding: "utf-8",
		Status:   statusSuccess,
	}, nil
}

// ---- WriteTool ----

// WriteResult is the write_file response.
type WriteResult struct {
	FilePath     string `json:"file_path"`
	BytesWritten int    `json:"bytes_written"`
	LinesWritten int    `json:"lines_written"`
	Status       string `json:"status"`
}

// WriteTool writes text files inside the workspace.
type WriteTool struct {
	ws     *workspace.Workspace
	config Config
	logger *slog.Logger
}

// NewWriteTool creates the write_file tool.
func NewWriteTool(ws *workspace.Workspace, cfg Config, logger *slog.Logger) *WriteTool {
	return &WriteTool{ws: ws, config: cfg, logger: logger}
}

func (t *WriteTool) Name() string        { return "write_file" }
func (t *WriteTool) Description() string { return "Write content to a file inside the workspace" }
func (t *WriteTool) Definition() mcp.Tool {
	return tools.NewDefinition(t.Name(), t.Description(),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("File path relative to the workspace")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Content to write")),
		mcp.WithBoolean("create_dirs", mcp.DefaultBool(true), mcp.Description("Create missing parent directories")),
	)
}

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	path, err := tools.RequireString(params, "file_path")
	if err != nil {
		return nil, err
	}
	content, err := tools.RequireString(params, "content")
	if err != nil {
		return nil, err
	}
	createDirs, err := tools.OptionalBool(params, "create_dirs", true)
	if err != nil {
		return nil, err
	}

	if int64(len(content)) > t.config.maxSize() {
		return nil, fmt.Errorf("%w: content is %d bytes (max: %d)", toolerr.ErrTooLarge, len(content), t.config.maxSize())
	}

	resolved, err := t.ws.Resolve(path)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(resolved); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", toolerr.ErrNotAFile, path)
	}

	parent := filepath.Dir(resolved)
	if createDirs {
		if err := t.ws.EnsureDir(parent); err != nil {
			return nil, fmt.Errorf("creating parent directory: %w", err)
		}
	} else if _, err := os.Stat(parent); err != nil {
		return nil, statError(filepath.Dir(path), err)
	}

	t.logger.DebugContext(ctx, "write_file executing",
		slog.String("path", resolved),
		slog.Int("content_size", len(content)),
	)

	if err := writeNoFollow(resolved, []byte(content)); err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, &toolerr.PathEscapeError{Path: path, Resolved: resolved, Root: t.ws.Root}
		}
		return nil, fmt.Errorf("writing %s: %w", resolved, err)
	}

	return &WriteResult{
		FilePath:     resolved,
		BytesWritten: len(content),
		LinesWritten: countLines(content),
		Status:       statusSuccess,
	}, nil
}

// writeNoFollow refuses to write through a symlink placed at path after it
// was resolved.
func writeNoFollow(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|syscall.O_NOFOLLOW, fs.FileMode(0640))
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
