package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/samsaffron/llmloop/internal/llm"
)

// MCPTool wraps an MCP server tool as an llm.Tool.
type MCPTool struct {
	client *Client
	spec   ToolSpec
}

// NewMCPTool creates a new MCP tool wrapper.
func NewMCPTool(client *Client, spec ToolSpec) *MCPTool {
	return &MCPTool{client: client, spec: spec}
}

func (t *MCPTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.client.Name() + nameSep + t.spec.Name,
		Description: fmt.Sprintf("[%s] %s", t.client.Name(), t.spec.Description),
		Schema:      t.spec.Schema,
	}
}

func (t *MCPTool) Preview(args json.RawMessage) string {
	return t.client.Name() + ": " + t.spec.Name
}

// RequiresApproval is true: server tools are opaque to us.
func (t *MCPTool) RequiresApproval(json.RawMessage) bool { return true }

// Execute invokes the tool on the MCP server. Tool-level failures become
// error outputs; connection failures are returned as errors.
func (t *MCPTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	callID := llm.CallIDFromContext(ctx)
	slog.Debug("calling MCP tool", "server", t.client.Name(), "tool", t.spec.Name, "call_id", callID)
	content, isError, err := t.client.CallTool(ctx, t.spec.Name, args)
	if err != nil {
		slog.Debug("MCP tool call failed", "server", t.client.Name(), "tool", t.spec.Name, "call_id", callID, "error", err)
		return llm.ToolOutput{}, err
	}
	if isError {
		return llm.ErrorOutput(content), nil
	}
	return llm.TextOutput(content), nil
}
