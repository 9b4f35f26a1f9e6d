package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samsaffron/llmloop/internal/config"
	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"text to echo back"`
}

// connectTestServer starts an in-memory server with an echo tool and a
// failing tool, and returns a client connected to it.
func connectTestServer(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "test", Version: "1.0.0"}, nil)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "echo", Description: "Echo text"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, in echoArgs) (*sdkmcp.CallToolResult, any, error) {
			return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "echo: " + in.Text}}}, nil, nil
		})
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "fail", Description: "Always fails"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, in struct{}) (*sdkmcp.CallToolResult, any, error) {
			return nil, nil, errors.New("boom")
		})

	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	c := NewClient(config.MCPServerConfig{Name: "mem"})
	require.NoError(t, c.Connect(ctx, clientTransport))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientListsAndCallsTools(t *testing.T) {
	c := connectTestServer(t)

	names := make([]string, 0)
	for _, spec := range c.Tools() {
		names = append(names, spec.Name)
	}
	assert.ElementsMatch(t, []string{"echo", "fail"}, names)

	content, isError, err := c.CallTool(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.False(t, isError)
	assert.Equal(t, "echo: hi", content)

	content, isError, err = c.CallTool(context.Background(), "fail", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, isError)
	assert.Contains(t, content, "boom")
}

func TestToolLogsCallID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	c := connectTestServer(t)
	var echo ToolSpec
	for _, spec := range c.Tools() {
		if spec.Name == "echo" {
			echo = spec
		}
	}
	tool := NewMCPTool(c, echo)

	ctx := llm.ContextWithCallID(context.Background(), "call_42")
	out, err := tool.Execute(ctx, json.RawMessage(`{"text":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "echo: x", out.Content)
	assert.Contains(t, buf.String(), "call_id=call_42")
	assert.Contains(t, buf.String(), "tool=echo")
}

func TestManagerRegistersPrefixedTools(t *testing.T) {
	c := connectTestServer(t)
	m := NewManager(nil)
	m.Add(c)

	reg := llm.NewToolRegistry()
	m.Register(reg)

	tool, ok := reg.Get("mem__echo")
	require.True(t, ok)
	spec := tool.Spec()
	assert.Equal(t, "[mem] Echo text", spec.Description)
	assert.Equal(t, "object", spec.Schema["type"])

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"text":"yo"}`))
	require.NoError(t, err)
	assert.Equal(t, llm.ToolOutput{Content: "echo: yo", Kind: llm.ResultText}, out)

	failing, ok := reg.Get("mem__fail")
	require.True(t, ok)
	out, err = failing.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, llm.ResultError, out.Kind)

	assert.True(t, tool.(llm.ApprovalRequirer).RequiresApproval(nil))
}

func TestCallToolAfterClose(t *testing.T) {
	c := connectTestServer(t)
	require.NoError(t, c.Close())
	_, _, err := c.CallTool(context.Background(), "echo", nil)
	assert.ErrorContains(t, err, "not running")
}

func TestStdioTransportInheritsEnv(t *testing.T) {
	t.Setenv("TEST_MCP_VAR", "original")
	c := NewClient(config.MCPServerConfig{
		Name:    "test",
		Command: "echo",
		Args:    []string{"hello"},
		Env:     map[string]string{"TEST_MCP_VAR": "overridden", "CUSTOM_VAR": "custom_value"},
	})

	ct, ok := c.transport().(*sdkmcp.CommandTransport)
	require.True(t, ok)
	env := ct.Command.Env
	assert.Contains(t, env, "CUSTOM_VAR=custom_value")
	assert.Contains(t, env, "TEST_MCP_VAR=overridden")
	hasPath := false
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
		}
	}
	assert.Equal(t, os.Getenv("PATH") != "", hasPath)
}

func TestStdioTransportWithoutEnvInheritsImplicitly(t *testing.T) {
	c := NewClient(config.MCPServerConfig{Name: "test", Command: "echo"})
	ct, ok := c.transport().(*sdkmcp.CommandTransport)
	require.True(t, ok)
	assert.Nil(t, ct.Command.Env)
}

func TestURLSelectsStreamableTransport(t *testing.T) {
	c := NewClient(config.MCPServerConfig{Name: "remote", URL: "http://localhost:9/mcp"})
	st, ok := c.transport().(*sdkmcp.StreamableClientTransport)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9/mcp", st.Endpoint)
}

func TestSchemaMapFallsBackToEmptyObject(t *testing.T) {
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, schemaMap(nil))
	assert.Equal(t, map[string]any{"type": "object"}, schemaMap(map[string]any{"type": "object"}))
}
