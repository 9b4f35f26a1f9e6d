package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool describes a callable external tool.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (ToolOutput, error)
	// Preview returns a short human-readable description of what the call
	// will do, shown next to approval prompts. Empty if unavailable.
	Preview(args json.RawMessage) string
}

// ApprovalRequirer is an optional interface for tools that must not run
// without confirmation by default.
type ApprovalRequirer interface {
	RequiresApproval(args json.RawMessage) bool
}

// ToolOutput is what a tool hands back to the model.
type ToolOutput struct {
	Content string
	Kind    ResultKind
}

// TextOutput wraps plain text tool output.
func TextOutput(s string) ToolOutput {
	return ToolOutput{Content: s, Kind: ResultText}
}

// JSONOutput marshals v as the tool output.
func JSONOutput(v any) (ToolOutput, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ToolOutput{}, fmt.Errorf("marshal tool output: %w", err)
	}
	return ToolOutput{Content: string(data), Kind: ResultJSON}, nil
}

// ErrorOutput is tool output the model should treat as a failure.
func ErrorOutput(s string) ToolOutput {
	return ToolOutput{Content: s, Kind: ResultError}
}

// ToolRegistry stores tools by name for execution. Specs are reported in
// registration order so requests are stable across turns.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(tool Tool) {
	name := tool.Spec().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	tool, ok := r.tools[name]
	return tool, ok
}

// AllSpecs returns the specs for all registered tools.
func (r *ToolRegistry) AllSpecs() []ToolSpec {
	if r == nil {
		return nil
	}
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}
