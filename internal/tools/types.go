// Package tools provides the local tools offered to the model and the
// policy that decides which calls need approval.
package tools

import (
	"fmt"

	"github.com/samsaffron/llmloop/internal/llm"
)

// ToolErrorType classifies failures so the model can decide how to retry.
type ToolErrorType string

const (
	ErrFileNotFound       ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams      ToolErrorType = "INVALID_PARAMS"
	ErrPathNotInWorkspace ToolErrorType = "PATH_NOT_IN_WORKSPACE"
	ErrExecutionFailed    ToolErrorType = "EXECUTION_FAILED"
	ErrBinaryFile         ToolErrorType = "BINARY_FILE"
	ErrTimeout            ToolErrorType = "TIMEOUT"
	ErrSymlinkEscape      ToolErrorType = "SYMLINK_ESCAPE"
)

// ToolError provides structured error information for retry logic.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// errorOutput renders err as an error-kind tool output.
func errorOutput(warning string, err *ToolError) llm.ToolOutput {
	return llm.ErrorOutput(warning + fmt.Sprintf("Error [%s]: %s", err.Type, err.Message))
}

// Tool names
const (
	ReadFileToolName  = "read_file"
	WriteFileToolName = "write_file"
	ShellToolName     = "shell"
	GlobToolName      = "glob"
)

// AllToolNames returns all built-in tool names.
func AllToolNames() []string {
	return []string{ReadFileToolName, GlobToolName, ShellToolName, WriteFileToolName}
}

// OutputLimits bounds what a tool sends back to the model.
type OutputLimits struct {
	MaxLines   int   // read_file lines
	MaxBytes   int64 // bytes per output
	MaxResults int   // glob matches
}

// DefaultOutputLimits returns the default output limits.
func DefaultOutputLimits() OutputLimits {
	return OutputLimits{
		MaxLines:   2000,
		MaxBytes:   50 * 1024,
		MaxResults: 200,
	}
}

func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}
