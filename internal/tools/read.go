package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/samsaffron/llmloop/internal/llm"
)

// ReadFileTool implements the read_file tool.
type ReadFileTool struct {
	ws     Workspace
	limits OutputLimits
}

// NewReadFileTool creates a new ReadFileTool.
func NewReadFileTool(ws Workspace, limits OutputLimits) *ReadFileTool {
	return &ReadFileTool{ws: ws, limits: limits}
}

// ReadFileArgs are the arguments for read_file.
type ReadFileArgs struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (t *ReadFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ReadFileToolName,
		Description: "Read file contents. Returns line-numbered output. Use start_line/end_line for pagination.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file, relative to the workspace or absolute",
				},
				"start_line": map[string]interface{}{
					"type":        "integer",
					"description": "1-indexed start line (default: 1)",
				},
				"end_line": map[string]interface{}{
					"type":        "integer",
					"description": "1-indexed end line (default: EOF)",
				},
			},
			"required":             []string{"file_path"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadFileTool) Preview(args json.RawMessage) string {
	var a ReadFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return ""
	}
	switch {
	case a.StartLine > 0 && a.EndLine > 0:
		return fmt.Sprintf("%s:%d-%d", a.FilePath, a.StartLine, a.EndLine)
	case a.StartLine > 0:
		return fmt.Sprintf("%s:%d-", a.FilePath, a.StartLine)
	case a.EndLine > 0:
		return fmt.Sprintf("%s:1-%d", a.FilePath, a.EndLine)
	}
	return a.FilePath
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	warning := unknownParams(args, "file_path", "start_line", "end_line")
	var a ReadFileArgs
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

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errorOutput(warning, NewToolError(ErrFileNotFound, a.FilePath)), nil
		}
		return errorOutput(warning, NewToolErrorf(ErrExecutionFailed, "read error: %v", err)), nil
	}
	if isBinaryContent(data) {
		return errorOutput(warning, NewToolErrorf(ErrBinaryFile, "%s appears to be a binary file", a.FilePath)), nil
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)

	start := 0
	if a.StartLine > 0 {
		start = a.StartLine - 1
	}
	if start >= total {
		return errorOutput(warning, NewToolErrorf(ErrInvalidParams, "start_line %d exceeds file length %d", a.StartLine, total)), nil
	}
	end := total
	if a.EndLine > 0 && a.EndLine < total {
		end = a.EndLine
	}
	if start >= end {
		return llm.TextOutput(warning + "No content in requested range."), nil
	}

	selected := lines[start:end]
	truncated := false
	if t.limits.MaxLines > 0 && len(selected) > t.limits.MaxLines {
		selected = selected[:t.limits.MaxLines]
		truncated = true
	}

	var sb strings.Builder
	for i, line := range selected {
		fmt.Fprintf(&sb, "%d: %s\n", start+i+1, line)
	}
	output := strings.TrimSuffix(sb.String(), "\n")
	if t.limits.MaxBytes > 0 && int64(len(output)) > t.limits.MaxBytes {
		output = output[:t.limits.MaxBytes]
		truncated = true
	}
	if truncated {
		output += fmt.Sprintf("\n\n[Output truncated. Total lines: %d. Use start_line/end_line for pagination.]", total)
	}
	return llm.TextOutput(warning + output), nil
}

// isBinaryContent sniffs the first 512 bytes for a non-text type with NUL bytes.
func isBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	contentType := http.DetectContentType(sample)
	if strings.HasPrefix(contentType, "text/") || strings.Contains(contentType, "json") || strings.Contains(contentType, "xml") {
		return false
	}
	return strings.IndexByte(string(sample), 0) >= 0
}
