package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWorkspaceResolve(t *testing.T) {
	root := t.TempDir()
	ws := Workspace{Root: root}

	tests := []struct {
		name    string
		path    string
		want    string
		errType ToolErrorType
	}{
		{"relative", "a/b.txt", filepath.Join(root, "a", "b.txt"), ""},
		{"absolute inside", filepath.Join(root, "x"), filepath.Join(root, "x"), ""},
		{"dot", ".", root, ""},
		{"escape", "../outside", "", ErrPathNotInWorkspace},
		{"absolute outside", "/etc/passwd", "", ErrPathNotInWorkspace},
		{"empty", "", "", ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, terr := ws.Resolve(tt.path)
			if tt.errType != "" {
				if terr == nil || terr.Type != tt.errType {
					t.Fatalf("Resolve(%q) error = %v, want %s", tt.path, terr, tt.errType)
				}
				return
			}
			if terr != nil {
				t.Fatalf("Resolve(%q): %v", tt.path, terr)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestWorkspaceResolveSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	_, terr := Workspace{Root: root}.Resolve("link/secret.txt")
	if terr == nil || terr.Type != ErrSymlinkEscape {
		t.Fatalf("expected SYMLINK_ESCAPE, got %v", terr)
	}
}

func TestWorkspaceWithoutRoot(t *testing.T) {
	got, terr := Workspace{}.Resolve("rel.txt")
	if terr != nil {
		t.Fatal(terr)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("expected absolute path, got %q", got)
	}
}
