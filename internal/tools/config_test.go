package tools

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/samsaffron/llmloop/internal/llm"
)

func TestPolicyNeedsApproval(t *testing.T) {
	reg, err := NewRegistry(Options{Enabled: AllToolNames(), Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	policy, err := NewPolicy(reg,
		[]string{"read_file", "shell:git status*", "shell:ls*"},
		[]string{"read_file:*.env", "shell:ls -R*"},
	)
	if err != nil {
		t.Fatal(err)
	}

	call := func(name, args string) llm.ToolCall {
		return llm.ToolCall{ID: "c", Name: name, Arguments: json.RawMessage(args)}
	}
	tests := []struct {
		name string
		call llm.ToolCall
		want bool
	}{
		{"auto approved by name", call("read_file", `{"file_path":"main.go"}`), false},
		{"require beats auto", call("read_file", `{"file_path":"prod.env"}`), true},
		{"auto approved by subject", call("shell", `{"command":"git status --short"}`), false},
		{"require beats auto on subject", call("shell", `{"command":"ls -R /"}`), true},
		{"tool default requires approval", call("shell", `{"command":"rm -rf build"}`), true},
		{"tool default runs unattended", call("glob", `{"pattern":"**/*.go"}`), false},
		{"write requires approval", call("write_file", `{"file_path":"a","content":""}`), true},
		{"unknown tool runs", call("mystery", `{}`), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.NeedsApproval(tt.call, nil, 0); got != tt.want {
				t.Errorf("NeedsApproval() = %v, want %v", got, tt.want)
			}
		})
	}

	policy.SetYolo(true)
	if policy.NeedsApproval(call("shell", `{"command":"rm -rf /"}`), nil, 0) {
		t.Error("yolo policy should approve everything")
	}
}

func TestNewPolicyInvalidPattern(t *testing.T) {
	if _, err := NewPolicy(nil, []string{"[oops"}, nil); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestSubject(t *testing.T) {
	tests := map[string]string{
		`{"command":"make","path":"x"}`:   "make",
		`{"file_path":"a.go"}`:            "a.go",
		`{"pattern":"*.go","path":"src"}`: "src",
		`{"other":1}`:                     "",
		`{"command":42}`:                  "",
		`garbage`:                         "",
	}
	for args, want := range tests {
		if got := Subject(json.RawMessage(args)); got != want {
			t.Errorf("Subject(%s) = %q, want %q", args, got, want)
		}
	}
}

func TestParseToolsFlag(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"all", AllToolNames()},
		{" * ", AllToolNames()},
		{"read_file, glob,,shell", []string{"read_file", "glob", "shell"}},
	}
	for _, tt := range tests {
		if got := ParseToolsFlag(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseToolsFlag(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(Options{Enabled: []string{"glob", "read_file"}})
	if err != nil {
		t.Fatal(err)
	}
	specs := reg.AllSpecs()
	if len(specs) != 2 || specs[0].Name != "glob" || specs[1].Name != "read_file" {
		t.Errorf("unexpected specs %v", specs)
	}
	if _, err := NewRegistry(Options{Enabled: []string{"teleport"}}); err == nil {
		t.Error("expected unknown tool error")
	}
}
