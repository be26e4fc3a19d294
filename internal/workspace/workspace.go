// Package workspace owns the sandbox root that every file and command
// operation is confined to.
//
// The root is resolved once (~ expansion, absolute, symlink-free) when the
// Workspace is created and never changes afterwards. Resolve maps untrusted,
// caller-supplied paths onto that root and rejects anything that escapes it.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jkaninda/mcpkit/internal/toolerr"
)

// Workspace is the trusted base directory for all operations.
type Workspace struct {
	Root string
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory, creates the root directory
// if it does not exist and canonicalizes it.
func New(root string) (*Workspace, error) {
	abs, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	if err := ensureDir(abs, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing workspace root %s: %w", abs, err)
	}
	return &Workspace{Root: canonical}, nil
}

// Resolve maps a caller-supplied path onto the workspace and returns its
// canonical absolute form.
//
// An empty path resolves to the root. Absolute paths are taken as-is and must
// already lie inside the root. Paths that do not exist yet are resolved through
// their deepest existing ancestor so write targets can be validated.
func (w *Workspace) Resolve(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: %q contains a NUL byte", toolerr.ErrInvalidPath, path)
	}

	var candidate string
	switch {
	case path == "":
		return w.Root, nil
	case filepath.IsAbs(path):
		candidate = filepath.Clean(path)
	default:
		candidate = filepath.Join(w.Root, path)
	}

	resolved, err := canonicalize(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", toolerr.ErrInvalidPath, path, err)
	}

	if !w.contains(resolved) {
		return "", &toolerr.PathEscapeError{Path: path, Resolved: resolved, Root: w.Root}
	}
	return resolved, nil
}

// EnsureDir creates a directory inside the workspace (and its parents) if it
// does not exist. The path must already be resolved.
func (w *Workspace) EnsureDir(path string) error {
	if !w.contains(path) {
		return &toolerr.PathEscapeError{Path: path, Resolved: path, Root: w.Root}
	}
	return ensureDir(path, 0750)
}

// contains reports whether a canonical path is the root or below it.
// "/work" must not admit "/workspace-evil", so the prefix includes the separator.
func (w *Workspace) contains(resolved string) bool {
	if resolved == w.Root {
		return true
	}
	prefix := w.Root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(resolved, prefix)
}

// maxLinkHops bounds how many dangling symlinks canonicalize follows.
const maxLinkHops = 40

var errTooManyLinks = errors.New("too many levels of symbolic links")

// canonicalize evaluates symlinks on the longest existing prefix of path and
// re-appends the missing tail. A dangling symlink is followed to its target,
// so a link inside the root cannot stand in for a path outside it.
func canonicalize(path string) (string, error) {
	return canonicalizeHops(path, 0)
}

func canonicalizeHops(path string, hops int) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	parent := filepath.Dir(path)
	if parent == path {
		return "", err
	}
	resolvedParent, err := canonicalizeHops(parent, hops)
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(resolvedParent, filepath.Base(path))

	info, err := os.Lstat(candidate)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return candidate, nil
	case err != nil:
		return "", err
	case info.Mode()&fs.ModeSymlink == 0:
		// Exists but EvalSymlinks could not see it; refuse to guess.
		return "", fmt.Errorf("cannot canonicalize %s", candidate)
	}

	if hops >= maxLinkHops {
		return "", errTooManyLinks
	}
	target, err := os.Readlink(candidate)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(resolvedParent, target)
	}
	return canonicalizeHops(filepath.Clean(target), hops+1)
}

// ensureDir creates a directory and its parents. MkdirAll is a no-op when the
// directory already exists, so directories removed behind our back come back.
func ensureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
