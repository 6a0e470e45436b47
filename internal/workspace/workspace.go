// Package workspace confines file references to a declared root directory.
// Validation scripts are named by the caller and executed locally, so any
// reference that escapes the workspace (traversal, absolute path, symlink)
// is rejected before it reaches the process executor.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveWithinRoot resolves rel against root and returns the absolute path.
// It fails when rel is absolute, traverses out of root, or points at a
// symlink whose target lives outside root.
func ResolveWithinRoot(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", filepath.Base(rel))
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving workspace root: %w", err)
	}

	joined := filepath.Join(absRoot, rel)
	if !contained(absRoot, joined) {
		return "", fmt.Errorf("path escapes workspace root: %s", rel)
	}

	// Follow symlinks on the existing portion of the path and re-check
	// containment, so a link inside the root cannot point outside of it.
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolving workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no such file in workspace: %s", rel)
		}
		return "", err
	}
	if !contained(resolvedRoot, resolved) {
		return "", fmt.Errorf("path escapes workspace root via symlink: %s", rel)
	}

	return resolved, nil
}

// contained reports whether path is root or a descendant of root.
func contained(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
