package llm

import (
	"encoding/json"
	"fmt"
)

const transcriptVersion = 1

// Transcript JSON form. Tool-call arguments are stored as strings because a
// model may have produced arguments that are not valid JSON.
type transcriptFile struct {
	Version  int                 `json:"version"`
	Messages []transcriptMessage `json:"messages"`
}

type transcriptMessage struct {
	Role  Role             `json:"role"`
	Parts []transcriptPart `json:"parts"`
}

type transcriptPart struct {
	Type       PartType          `json:"type"`
	Text       string            `json:"text,omitempty"`
	ToolCall   *transcriptCall   `json:"tool_call,omitempty"`
	ToolResult *transcriptResult `json:"tool_result,omitempty"`
}

type transcriptCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type transcriptResult struct {
	ToolCallID string     `json:"tool_call_id"`
	Name       string     `json:"name"`
	Content    string     `json:"content"`
	Kind       ResultKind `json:"kind"`
}

// MarshalTranscript serializes messages into a stable JSON document.
func MarshalTranscript(messages []Message) ([]byte, error) {
	file := transcriptFile{Version: transcriptVersion, Messages: make([]transcriptMessage, 0, len(messages))}
	for _, msg := range messages {
		tm := transcriptMessage{Role: msg.Role, Parts: make([]transcriptPart, 0, len(msg.Parts))}
		for _, part := range msg.Parts {
			tp := transcriptPart{Type: part.Type, Text: part.Text}
			if part.ToolCall != nil {
				tp.ToolCall = &transcriptCall{
					ID:        part.ToolCall.ID,
					Name:      part.ToolCall.Name,
					Arguments: string(part.ToolCall.Arguments),
				}
			}
			if part.ToolResult != nil {
				tp.ToolResult = &transcriptResult{
					ToolCallID: part.ToolResult.ToolCallID,
					Name:       part.ToolResult.Name,
					Content:    part.ToolResult.Content,
					Kind:       part.ToolResult.Kind,
				}
			}
			tm.Parts = append(tm.Parts, tp)
		}
		file.Messages = append(file.Messages, tm)
	}
	return json.Marshal(file)
}

// UnmarshalTranscript is the inverse of MarshalTranscript.
func UnmarshalTranscript(data []byte) ([]Message, error) {
	var file transcriptFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if file.Version != transcriptVersion {
		return nil, fmt.Errorf("unsupported transcript version %d", file.Version)
	}
	messages := make([]Message, 0, len(file.Messages))
	for _, tm := range file.Messages {
		msg := Message{Role: tm.Role}
		for _, tp := range tm.Parts {
			part := Part{Type: tp.Type, Text: tp.Text}
			if tp.ToolCall != nil {
				part.ToolCall = &ToolCall{
					ID:        tp.ToolCall.ID,
					Name:      tp.ToolCall.Name,
					Arguments: json.RawMessage(tp.ToolCall.Arguments),
				}
			}
			if tp.ToolResult != nil {
				part.ToolResult = &ToolResult{
					ToolCallID: tp.ToolResult.ToolCallID,
					Name:       tp.ToolResult.Name,
					Content:    tp.ToolResult.Content,
					Kind:       tp.ToolResult.Kind,
				}
			}
			msg.Parts = append(msg.Parts, part)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
