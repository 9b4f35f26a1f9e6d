// Package mcp exposes the tools of Model Context Protocol servers as
// llm.Tool values.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samsaffron/llmloop/internal/config"
)

// Version is reported to servers during the handshake.
var Version = "dev"

// ToolSpec describes a tool available from an MCP server.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Client wraps one MCP server connection.
type Client struct {
	name   string
	config config.MCPServerConfig

	mu      sync.RWMutex
	session *mcp.ClientSession
	tools   []ToolSpec
}

// NewClient creates a client for the given server configuration.
func NewClient(cfg config.MCPServerConfig) *Client {
	return &Client{name: cfg.Name, config: cfg}
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// Start connects using the configured transport and fetches the tool list.
func (c *Client) Start(ctx context.Context) error {
	return c.Connect(ctx, c.transport())
}

// Connect initializes a session over transport and fetches the tool list.
func (c *Client) Connect(ctx context.Context, transport mcp.Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "llmloop", Version: Version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", c.name, err)
	}
	tools, err := listTools(ctx, session)
	if err != nil {
		session.Close()
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}
	c.session = session
	c.tools = tools
	return nil
}

// transport picks streamable HTTP when a URL is configured and a stdio
// subprocess otherwise.
func (c *Client) transport() mcp.Transport {
	if c.config.URL != "" {
		return &mcp.StreamableClientTransport{Endpoint: c.config.URL}
	}
	cmd := exec.Command(c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	return &mcp.CommandTransport{Command: cmd}
}

// Close ends the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.tools = nil
	return err
}

// Tools returns the tools advertised by the server.
func (c *Client) Tools() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

func listTools(ctx context.Context, session *mcp.ClientSession) ([]ToolSpec, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	tools := make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schemaMap(t.InputSchema),
		})
	}
	return tools, nil
}

// schemaMap normalizes whatever the SDK decoded into a JSON object.
func schemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
	case map[string]any:
		return s
	default:
		data, err := json.Marshal(s)
		if err == nil {
			var m map[string]any
			if json.Unmarshal(data, &m) == nil && m != nil {
				return m
			}
		}
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// CallTool invokes a tool on the server. isError reports a tool-level
// failure; err is reserved for protocol and connection failures.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (content string, isError bool, err error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return "", false, fmt.Errorf("MCP server %s is not running", c.name)
	}

	arguments := map[string]any{}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", false, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}
	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return "", false, fmt.Errorf("call tool %s: %w", name, err)
	}
	return formatContent(result.Content), result.IsError, nil
}

func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			sb.WriteString(v.Text)
		default:
			if data, err := json.Marshal(c); err == nil {
				sb.Write(data)
			}
		}
	}
	return sb.String()
}
