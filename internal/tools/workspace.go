package tools

import (
	"os"
	"path/filepath"
	"strings"
)

// Workspace resolves tool paths. With a Root set, relative paths are taken
// from it and nothing outside it can be reached, symlinks included.
type Workspace struct {
	Root string
}

// Resolve returns the absolute path for p.
func (w Workspace) Resolve(p string) (string, *ToolError) {
	if p == "" {
		return "", NewToolError(ErrInvalidParams, "path is required")
	}
	if w.Root == "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", NewToolErrorf(ErrInvalidParams, "cannot resolve path: %v", err)
		}
		return abs, nil
	}

	root, err := filepath.Abs(w.Root)
	if err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "cannot resolve root: %v", err)
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)
	if !within(root, abs) {
		return "", NewToolErrorf(ErrPathNotInWorkspace, "%s is outside %s", p, root)
	}

	// Symlinks are checked against the real root for the part of the path
	// that already exists.
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return abs, nil
	}
	existing := abs
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		existing = parent
	}
	real, err := filepath.EvalSymlinks(existing)
	if err == nil && !within(realRoot, real) {
		return "", NewToolErrorf(ErrSymlinkEscape, "%s resolves outside %s", p, root)
	}
	return abs, nil
}

// Dir returns the directory tools run in by default.
func (w Workspace) Dir() (string, error) {
	if w.Root != "" {
		return filepath.Abs(w.Root)
	}
	return os.Getwd()
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
