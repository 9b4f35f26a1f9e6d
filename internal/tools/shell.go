package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/samsaffron/llmloop/internal/llm"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 5 * time.Minute
)

// ShellTool implements the shell tool.
type ShellTool struct {
	ws      Workspace
	limits  OutputLimits
	timeout time.Duration
}

// NewShellTool creates a new ShellTool. timeout is the default per-command
// limit; zero means 30 seconds.
func NewShellTool(ws Workspace, limits OutputLimits, timeout time.Duration) *ShellTool {
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	return &ShellTool{ws: ws, limits: limits, timeout: timeout}
}

// ShellArgs are the arguments for the shell tool.
type ShellArgs struct {
	Command        string `json:"command"`
	WorkingDir     string `json:"working_dir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ShellResult contains the result of a shell command.
type ShellResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

func (t *ShellTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ShellToolName,
		Description: "Execute a shell command. Returns stdout, stderr, and exit code.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"working_dir": map[string]interface{}{
					"type":        "string",
					"description": "Working directory (defaults to the workspace root)",
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Command timeout in seconds (default: %d, max: %d)", int(t.timeout.Seconds()), int(maxShellTimeout.Seconds())),
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ShellTool) Preview(args json.RawMessage) string {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Command == "" {
		return ""
	}
	return truncateCommand(a.Command)
}

// RequiresApproval is always true: commands are not sandboxed.
func (t *ShellTool) RequiresApproval(json.RawMessage) bool { return true }

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	warning := unknownParams(args, "command", "working_dir", "timeout_seconds")
	var a ShellArgs
	if terr := decodeArgs(args, &a); terr != nil {
		return errorOutput(warning, terr), nil
	}
	if a.Command == "" {
		return errorOutput(warning, NewToolError(ErrInvalidParams, "command is required")), nil
	}

	timeout := t.timeout
	if a.TimeoutSeconds > 0 {
		timeout = time.Duration(a.TimeoutSeconds) * time.Second
	}
	timeout = min(timeout, maxShellTimeout)

	workDir, err := t.ws.Dir()
	if err != nil {
		return errorOutput(warning, NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err)), nil
	}
	if a.WorkingDir != "" {
		var terr *ToolError
		if workDir, terr = t.ws.Resolve(a.WorkingDir); terr != nil {
			return errorOutput(warning, terr), nil
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, detectShell(), "-c", a.Command)
	cmd.Dir = workDir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	result := ShellResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		return llm.ErrorOutput(warning + formatShellResult(result, t.limits)), nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return errorOutput(warning, NewToolErrorf(ErrExecutionFailed, "command error: %v", err)), nil
		}
		result.ExitCode = exitErr.ExitCode()
	}
	if result.ExitCode != 0 {
		return llm.ErrorOutput(warning + formatShellResult(result, t.limits)), nil
	}
	return llm.TextOutput(warning + formatShellResult(result, t.limits)), nil
}

func formatShellResult(result ShellResult, limits OutputLimits) string {
	var sb strings.Builder
	truncated := false
	clip := func(s string) string {
		if limits.MaxBytes > 0 && int64(len(s)) > limits.MaxBytes {
			truncated = true
			return s[:limits.MaxBytes]
		}
		return s
	}
	stdout, stderr := clip(result.Stdout), clip(result.Stderr)

	if result.TimedOut {
		sb.WriteString("[Command timed out]\n\n")
	}
	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "\nexit_code: %d", result.ExitCode)
	if truncated {
		sb.WriteString("\n\n[Output truncated due to size limit]")
	}
	return sb.String()
}

func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "sh"
}
