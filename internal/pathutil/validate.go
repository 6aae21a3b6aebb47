// Package pathutil confines the files that tool calls read and write to a
// fixed set of directories.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutside reports a path that escapes every sandbox root.
var ErrOutside = errors.New("path is outside the allowed directories")

// StateDir is the per-user directory always allowed by NewSandbox.
const StateDir = ".pfstudy"

// Redact shortens a path to .../<parent>/<base> for error messages, so
// home directories and user names do not leak into tool output.
func Redact(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	base := filepath.Base(cleaned)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// Sandbox resolves paths against a base directory and accepts only those
// that land inside one of its roots once symlinks are followed.
type Sandbox struct {
	base  string
	roots []string
}

// NewSandbox allows ~/.pfstudy and, when projectRoot is non-empty, the
// project root. Relative paths are taken relative to projectRoot.
func NewSandbox(projectRoot string) (*Sandbox, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	roots := []string{filepath.Join(home, StateDir)}
	if projectRoot != "" {
		roots = append(roots, projectRoot)
	}
	return Within(projectRoot, roots...)
}

// Within creates a sandbox over roots. Roots need not exist yet.
func Within(base string, roots ...string) (*Sandbox, error) {
	if len(roots) == 0 {
		return nil, errors.New("sandbox needs at least one root")
	}
	s := &Sandbox{base: base}
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("root %s: %w", Redact(r), err)
		}
		resolved, err := resolveExisting(abs)
		if err != nil {
			return nil, err
		}
		s.roots = append(s.roots, resolved)
	}
	return s, nil
}

// Roots returns the resolved root directories.
func (s *Sandbox) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Resolve returns the absolute, symlink-resolved form of path, or an error
// wrapping ErrOutside when it leaves every root.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New("path is empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return "", errors.New("path contains a null byte")
	}
	if !filepath.IsAbs(path) && s.base != "" {
		path = filepath.Join(s.base, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot make %s absolute: %w", Redact(path), err)
	}
	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", err
	}
	for _, root := range s.roots {
		if inside(resolved, root) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%s: %w", Redact(abs), ErrOutside)
}

// Output resolves path for writing a file: directories are rejected.
func (s *Sandbox) Output(path string) (string, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(resolved); err == nil && info.IsDir() {
		return "", fmt.Errorf("%s is a directory", Redact(resolved))
	}
	return resolved, nil
}

// resolveExisting follows symlinks on the deepest existing ancestor of p
// and re-appends the components that do not exist yet.
func resolveExisting(p string) (string, error) {
	var missing []string
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("cannot resolve %s", Redact(p))
		}
		missing = append([]string{filepath.Base(p)}, missing...)
		p = parent
	}
}

// inside reports whether path is root or below it.
func inside(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
