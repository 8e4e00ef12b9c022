package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathError reports a file name refused by a pathGuard.
type PathError struct {
	Name         string
	Reason       string
	ResolvedPath string
}

func (e *PathError) Error() string {
	if e.ResolvedPath != "" {
		return fmt.Sprintf("path rejected: %s (input: %s, resolved: %s)", e.Reason, e.Name, e.ResolvedPath)
	}
	return fmt.Sprintf("path rejected: %s (input: %s)", e.Reason, e.Name)
}

// pathGuard keeps repository files inside one directory, following symlinks
// before checking containment.
type pathGuard struct {
	base         string
	resolvedBase string
	maxNameLen   int
}

func newPathGuard(base string) (*pathGuard, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve base directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot access base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path is not a directory: %s", abs)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve symbolic links in base directory: %w", err)
	}
	return &pathGuard{base: abs, resolvedBase: resolved, maxNameLen: 255}, nil
}

// Resolve returns the absolute path for name inside the base directory.
// The file does not need to exist yet.
func (g *pathGuard) Resolve(name string) (string, error) {
	if name == "" {
		return "", &PathError{Name: name, Reason: "name cannot be empty"}
	}
	if len(name) > g.maxNameLen {
		return "", &PathError{Name: name, Reason: fmt.Sprintf("name exceeds %d bytes", g.maxNameLen)}
	}
	if !filepath.IsLocal(name) {
		return "", &PathError{Name: name, Reason: "path escapes the directory"}
	}

	full := filepath.Join(g.base, filepath.Clean(name))
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", &PathError{Name: name, Reason: "cannot resolve path"}
		}
		parent, perr := filepath.EvalSymlinks(filepath.Dir(full))
		if perr != nil {
			return "", &PathError{Name: name, Reason: "cannot resolve parent directory"}
		}
		resolved = filepath.Join(parent, filepath.Base(full))
	}

	rel, err := filepath.Rel(g.resolvedBase, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathError{Name: name, Reason: "resolved path escapes the directory", ResolvedPath: resolved}
	}
	return full, nil
}
