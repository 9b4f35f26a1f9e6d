package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/llmloop/internal/llm"
)

func newTestShell(t *testing.T, root string, timeout time.Duration) *ShellTool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell tool needs a POSIX shell")
	}
	t.Setenv("SHELL", "/bin/sh")
	return NewShellTool(Workspace{Root: root}, DefaultOutputLimits(), timeout)
}

func TestShellToolSpec(t *testing.T) {
	spec := NewShellTool(Workspace{}, DefaultOutputLimits(), 0).Spec()
	if spec.Name != ShellToolName {
		t.Errorf("expected name %q, got %q", ShellToolName, spec.Name)
	}
	props, ok := spec.Schema["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("schema should have properties")
	}
	for _, p := range []string{"command", "working_dir", "timeout_seconds"} {
		if _, ok := props[p]; !ok {
			t.Errorf("schema should have %s property", p)
		}
	}
}

func TestShellToolPreview(t *testing.T) {
	tool := NewShellTool(Workspace{}, DefaultOutputLimits(), 0)
	long := strings.Repeat("x", 80)
	tests := []struct {
		args json.RawMessage
		want string
	}{
		{json.RawMessage(`{"command":"echo hello"}`), "echo hello"},
		{json.RawMessage(`{"command":"` + long + `"}`), long[:47] + "..."},
		{json.RawMessage(`{}`), ""},
		{json.RawMessage(`nope`), ""},
	}
	for _, tt := range tests {
		if got := tool.Preview(tt.args); got != tt.want {
			t.Errorf("Preview(%s) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestShellToolRunsInRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "marker"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	tool := newTestShell(t, root, time.Second*10)

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"ls; echo oops >&2"}`))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != llm.ResultText {
		t.Fatalf("expected text output, got %+v", out)
	}
	for _, want := range []string{"stdout:\nmarker\n", "stderr:\noops\n", "exit_code: 0"} {
		if !strings.Contains(out.Content, want) {
			t.Errorf("output %q missing %q", out.Content, want)
		}
	}
}

func TestShellToolNonZeroExit(t *testing.T) {
	tool := newTestShell(t, t.TempDir(), time.Second*10)
	out, _ := tool.Execute(context.Background(), json.RawMessage(`{"command":"exit 3"}`))
	if out.Kind != llm.ResultError || !strings.HasSuffix(out.Content, "exit_code: 3") {
		t.Errorf("unexpected output %+v", out)
	}
}

func TestShellToolTimeout(t *testing.T) {
	tool := newTestShell(t, t.TempDir(), 100*time.Millisecond)
	out, _ := tool.Execute(context.Background(), json.RawMessage(`{"command":"sleep 5"}`))
	if out.Kind != llm.ResultError || !strings.HasPrefix(out.Content, "[Command timed out]") {
		t.Errorf("unexpected output %+v", out)
	}
}

func TestShellToolRejectsEscapingWorkingDir(t *testing.T) {
	tool := newTestShell(t, t.TempDir(), time.Second)
	out, _ := tool.Execute(context.Background(), json.RawMessage(`{"command":"pwd","working_dir":"../.."}`))
	if out.Kind != llm.ResultError || !strings.Contains(out.Content, string(ErrPathNotInWorkspace)) {
		t.Errorf("unexpected output %+v", out)
	}
}

func TestFormatShellResultTruncates(t *testing.T) {
	got := formatShellResult(ShellResult{Stdout: "abcdef"}, OutputLimits{MaxBytes: 3})
	want := "stdout:\nabc\n\nexit_code: 0\n\n[Output truncated due to size limit]"
	if got != want {
		t.Errorf("formatShellResult() = %q, want %q", got, want)
	}
}
