package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samsaffron/llmloop/internal/llm"
)

// GlobTool implements the glob tool.
type GlobTool struct {
	ws     Workspace
	limits OutputLimits
}

// NewGlobTool creates a new GlobTool.
func NewGlobTool(ws Workspace, limits OutputLimits) *GlobTool {
	return &GlobTool{ws: ws, limits: limits}
}

// GlobArgs are the arguments for glob.
type GlobArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// FileEntry is one glob match.
type FileEntry struct {
	FilePath  string
	IsDir     bool
	SizeBytes int64
	ModTime   time.Time
}

func (t *GlobTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GlobToolName,
		Description: "Find files by glob pattern (supports ** for recursive matching). Returns file metadata, newest first.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern supporting ** for recursive matching, e.g., '**/*.go' or 'src/**/*.ts'",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Base directory for the search (defaults to the workspace root)",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GlobTool) Preview(args json.RawMessage) string {
	var a GlobArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return ""
	}
	if a.Path != "" {
		return fmt.Sprintf("%s in %s", a.Pattern, a.Path)
	}
	return a.Pattern
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	warning := unknownParams(args, "pattern", "path")
	var a GlobArgs
	if terr := decodeArgs(args, &a); terr != nil {
		return errorOutput(warning, terr), nil
	}
	if a.Pattern == "" {
		return errorOutput(warning, NewToolError(ErrInvalidParams, "pattern is required")), nil
	}
	if !doublestar.ValidatePattern(a.Pattern) {
		return errorOutput(warning, NewToolErrorf(ErrInvalidParams, "invalid pattern: %s", a.Pattern)), nil
	}

	base, err := t.ws.Dir()
	if err != nil {
		return errorOutput(warning, NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err)), nil
	}
	if a.Path != "" {
		var terr *ToolError
		if base, terr = t.ws.Resolve(a.Path); terr != nil {
			return errorOutput(warning, terr), nil
		}
	}

	max := t.limits.MaxResults
	if max <= 0 {
		max = DefaultOutputLimits().MaxResults
	}

	var entries []FileEntry
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || path == base {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		if ok, _ := doublestar.Match(a.Pattern, filepath.ToSlash(rel)); !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, FileEntry{
			FilePath:  rel,
			IsDir:     d.IsDir(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
		if len(entries) >= max {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return errorOutput(warning, NewToolErrorf(ErrExecutionFailed, "walk error: %v", err)), nil
	}

	if len(entries) == 0 {
		return llm.TextOutput(warning + "No files matched the pattern."), nil
	}
	slices.SortFunc(entries, func(x, y FileEntry) int {
		if c := y.ModTime.Compare(x.ModTime); c != 0 {
			return c
		}
		return strings.Compare(x.FilePath, y.FilePath)
	})
	return llm.TextOutput(warning + formatGlobResults(entries, len(entries) >= max)), nil
}

func formatGlobResults(entries []FileEntry, truncated bool) string {
	var sb strings.Builder
	for _, e := range entries {
		kind := "f"
		if e.IsDir {
			kind = "d"
		}
		fmt.Fprintf(&sb, "[%s] %s  %s  %s\n", kind, formatSize(e.SizeBytes), e.ModTime.Format("2006-01-02 15:04"), e.FilePath)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n[Results truncated at %d files]", len(entries))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// formatSize formats a byte count as human-readable.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%4dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%4.0f%c", float64(bytes)/float64(div), "KMGTPE"[exp])
}
