package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samsaffron/llmloop/internal/config"
	"github.com/samsaffron/llmloop/internal/llm"
)

// nameSep joins server and tool names in the names the model sees.
const nameSep = "__"

// Manager owns the connections to every configured MCP server.
type Manager struct {
	clients []*Client
	logger  *slog.Logger
}

// NewManager creates a manager. A nil logger means slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Start connects to each server. A server that fails to start is logged
// and skipped so one broken server does not take the others down.
func (m *Manager) Start(ctx context.Context, servers []config.MCPServerConfig) {
	for _, cfg := range servers {
		c := NewClient(cfg)
		if err := c.Start(ctx); err != nil {
			m.logger.Warn("MCP server unavailable", "server", cfg.Name, "error", err)
			continue
		}
		m.logger.Debug("MCP server ready", "server", cfg.Name, "tools", len(c.Tools()))
		m.clients = append(m.clients, c)
	}
}

// Add registers an already connected client.
func (m *Manager) Add(c *Client) {
	m.clients = append(m.clients, c)
}

// Register adds every server tool to reg as "server__tool".
func (m *Manager) Register(reg *llm.ToolRegistry) {
	for _, c := range m.clients {
		for _, spec := range c.Tools() {
			reg.Register(NewMCPTool(c, spec))
		}
	}
}

// Close ends every session.
func (m *Manager) Close() error {
	var errs []error
	for _, c := range m.clients {
		errs = append(errs, c.Close())
	}
	m.clients = nil
	return errors.Join(errs...)
}
