package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samsaffron/llmloop/internal/llm"
)

// subjectKeys are the argument keys, in priority order, whose string value
// names what a call acts on.
var subjectKeys = []string{"command", "file_path", "path", "pattern", "url"}

// Policy decides which tool calls must be confirmed before they run.
//
// Patterns are gobwas globs matched against the tool name and against
// "name:subject", where subject is the call's primary argument (the shell
// command, the file path, ...). A RequireApproval match wins over an
// AutoApprove match; with neither, tools implementing llm.ApprovalRequirer
// decide and everything else runs unattended.
type Policy struct {
	tools   *llm.ToolRegistry
	auto    []glob.Glob
	require []glob.Glob
	yolo    bool
}

// NewPolicy compiles the pattern lists. tools is consulted for the default
// of calls no pattern matches; it may be nil.
func NewPolicy(tools *llm.ToolRegistry, autoApprove, requireApproval []string) (*Policy, error) {
	p := &Policy{tools: tools}
	var err error
	if p.auto, err = compilePatterns(autoApprove); err != nil {
		return nil, err
	}
	if p.require, err = compilePatterns(requireApproval); err != nil {
		return nil, err
	}
	return p, nil
}

// SetYolo disables approval entirely.
func (p *Policy) SetYolo(yolo bool) { p.yolo = yolo }

// NeedsApproval reports whether call must be confirmed. Its signature
// matches loop.NeedsApproval.
func (p *Policy) NeedsApproval(call llm.ToolCall, _ []llm.Message, _ int) bool {
	if p == nil || p.yolo {
		return false
	}
	keys := []string{call.Name}
	if s := Subject(call.Arguments); s != "" {
		keys = append(keys, call.Name+":"+s)
	}
	if matchAny(p.require, keys) {
		return true
	}
	if matchAny(p.auto, keys) {
		return false
	}
	if tool, ok := p.tools.Get(call.Name); ok {
		if r, ok := tool.(llm.ApprovalRequirer); ok {
			return r.RequiresApproval(call.Arguments)
		}
	}
	return false
}

// Subject returns the primary string argument of a call, or "".
func Subject(args json.RawMessage) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(args, &m); err != nil {
		return ""
	}
	for _, k := range subjectKeys {
		var s string
		if raw, ok := m[k]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid approval pattern %q: %w", pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, keys []string) bool {
	for _, g := range globs {
		for _, k := range keys {
			if g.Match(k) {
				return true
			}
		}
	}
	return false
}

// ParseToolsFlag parses a comma-separated list of tool names.
// "all" or "*" expand to every built-in tool.
func ParseToolsFlag(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	if trimmed == "all" || trimmed == "*" {
		return AllToolNames()
	}
	var names []string
	for _, p := range strings.Split(trimmed, ",") {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}
