package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/samsaffron/llmloop/internal/llm"
)

// WriteFileTool implements the write_file tool.
type WriteFileTool struct {
	ws Workspace
}

// NewWriteFileTool creates a new WriteFileTool.
func NewWriteFileTool(ws Workspace) *WriteFileTool {
	return &WriteFileTool{ws: ws}
}

// WriteFileArgs are the arguments for write_file.
type WriteFileArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// WriteFileResult is reported back to the model as JSON.
type WriteFileResult struct {
	Path          string `json:"path"`
	Created       bool   `json:"created"`
	Lines         int    `json:"lines"`
	PreviousLines int    `json:"previous_lines,omitempty"`
}

func (t *WriteFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WriteFileToolName,
		Description: "Create or overwrite a file with the specified content. Creates parent directories if needed.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file to write",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full file content to write",
				},
			},
			"required":             []string{"file_path", "content"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteFileTool) Preview(args json.RawMessage) string {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return ""
	}
	return a.FilePath
}

// RequiresApproval is always true for writes.
func (t *WriteFileTool) RequiresApproval(json.RawMessage) bool { return true }

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	warning := unknownParams(args, "file_path", "content")
	var a WriteFileArgs
	if terr := decodeArgs(args, &a); terr != nil {
		return errorOutput(warning, terr), nil
	}
	if a.FilePath == "" {
		return errorOutput(warning, NewToolError(ErrInvalidParams, "file_path is required")), nil
	}
	path, terr := t.ws.Resolve(a.FilePath)
	if terr != nil {
		return errorOutput(warning, terr), nil
	}

	result := WriteFileResult{Path: a.FilePath, Created: true, Lines: countLines(a.Content)}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return errorOutput(warning, NewToolErrorf(ErrInvalidParams, "%s is a directory", a.FilePath)), nil
		}
		mode = info.Mode().Perm()
		if data, err := os.ReadFile(path); err == nil {
			result.Created = false
			result.PreviousLines = countLines(string(data))
		}
	}

	if err := atomicWrite(path, []byte(a.Content), mode); err != nil {
		return errorOutput(warning, NewToolErrorf(ErrExecutionFailed, "%v", err)), nil
	}

	out, err := llm.JSONOutput(result)
	if err != nil {
		return llm.ToolOutput{}, err
	}
	out.Content = warning + out.Content
	return out, nil
}

// atomicWrite writes data next to path and renames it into place, so
// readers never see a partial file.
func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tf, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := tf.Name()
	cleanup := func(err error) error {
		tf.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := tf.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tf.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tf.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

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
