package llm

import (
	"context"
	"encoding/json"
)

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields events until io.EOF. Exactly one terminal event
// (Completion or ErrorEvent) is delivered before io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model             string
	Messages          []Message
	Tools             []ToolSpec
	ToolChoice        ToolChoice
	ParallelToolCalls bool
	MaxOutputTokens   int
	Temperature       float32
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolChoiceMode controls tool selection behavior.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceName     ToolChoiceMode = "name"
)

// ToolChoice configures which tool the model should call.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// PartialToolCall is one streamed fragment of a tool call. Index is the
// provider-assigned slot within the current turn; ID and Name usually only
// arrive on the first fragment.
type PartialToolCall struct {
	Index             int
	ID                string
	Name              string
	ArgumentsFragment string
}

// ToolCall is a model-requested tool invocation. Arguments are only
// guaranteed to be complete once the call has been closed by the stream's
// Completion.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ResultKind tags the payload of a tool result.
type ResultKind string

const (
	ResultText   ResultKind = "text"
	ResultJSON   ResultKind = "json"
	ResultError  ResultKind = "error"
	ResultDenied ResultKind = "denied"
)

// ToolResult is the output from executing (or refusing) a tool call.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	Kind       ResultKind
}

// IsError reports whether the model should see this result as a failure.
func (r ToolResult) IsError() bool {
	return r.Kind == ResultError || r.Kind == ResultDenied
}

// Response is the assembled content of one completed turn.
type Response struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
}

// Add accumulates other into u. A nil other is a no-op.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedInputTokens += other.CachedInputTokens
}
