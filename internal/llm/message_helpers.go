package llm

import (
	"context"
	"strings"
)

type contextKey string

const toolCallIDKey contextKey = "tool_call_id"

// ContextWithCallID returns a new context carrying the tool call ID being
// executed.
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, callID)
}

// CallIDFromContext extracts the tool call ID from context, or returns empty string.
func CallIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(toolCallIDKey).(string); ok {
		return id
	}
	return ""
}

func SystemText(text string) Message {
	return Message{
		Role:  RoleSystem,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func UserText(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func AssistantText(text string) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

// AssistantMessage builds the history entry for a completed turn:
// reasoning first, then text, then one part per tool call in request order.
func AssistantMessage(resp Response) Message {
	msg := Message{Role: RoleAssistant}
	if resp.Reasoning != "" {
		msg.Parts = append(msg.Parts, Part{Type: PartReasoning, Text: resp.Reasoning})
	}
	if resp.Text != "" {
		msg.Parts = append(msg.Parts, Part{Type: PartText, Text: resp.Text})
	}
	for i := range resp.ToolCalls {
		call := resp.ToolCalls[i]
		msg.Parts = append(msg.Parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return msg
}

// ToolResultMessage wraps a single result as a tool message.
func ToolResultMessage(result ToolResult) Message {
	return Message{
		Role:  RoleTool,
		Parts: []Part{{Type: PartToolResult, ToolResult: &result}},
	}
}

// ToolErrorResult builds an error result for call. The text is passed to
// the model so it can respond instead of failing the loop.
func ToolErrorResult(call ToolCall, errorText string) ToolResult {
	return ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    errorText,
		Kind:       ResultError,
	}
}

// DeniedResult builds the explicit refusal the model sees for a denied call.
func DeniedResult(call ToolCall) ToolResult {
	return ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    "Tool call denied by user: " + call.Name,
		Kind:       ResultDenied,
	}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool calls carried by the message in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, part := range m.Parts {
		if part.Type == PartToolCall && part.ToolCall != nil {
			calls = append(calls, *part.ToolCall)
		}
	}
	return calls
}

// ToolResult returns the first tool result carried by the message, if any.
func (m Message) ToolResult() (ToolResult, bool) {
	for _, part := range m.Parts {
		if part.Type == PartToolResult && part.ToolResult != nil {
			return *part.ToolResult, true
		}
	}
	return ToolResult{}, false
}

func collectTextParts(parts []Part) string {
	return Message{Parts: parts}.Text()
}

// FlattenSystem joins all system message text, for providers that take the
// system prompt out of band.
func FlattenSystem(messages []Message) string {
	var systemParts []string
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			systemParts = append(systemParts, collectTextParts(msg.Parts))
		}
	}
	return strings.Join(systemParts, "\n\n")
}
