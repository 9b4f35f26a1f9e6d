package tools

import (
	"fmt"
	"slices"
	"time"

	"github.com/samsaffron/llmloop/internal/llm"
)

// Options selects and configures the built-in tools.
type Options struct {
	Enabled      []string
	Root         string
	ShellTimeout time.Duration
	Limits       OutputLimits
}

// ValidToolName reports whether name is a built-in tool.
func ValidToolName(name string) bool {
	return slices.Contains(AllToolNames(), name)
}

// NewRegistry registers the enabled built-in tools, in the order given.
func NewRegistry(opts Options) (*llm.ToolRegistry, error) {
	reg := llm.NewToolRegistry()
	if err := Register(reg, opts); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register adds the enabled built-in tools to reg.
func Register(reg *llm.ToolRegistry, opts Options) error {
	limits := opts.Limits
	if limits == (OutputLimits{}) {
		limits = DefaultOutputLimits()
	}
	ws := Workspace{Root: opts.Root}

	for _, name := range opts.Enabled {
		var tool llm.Tool
		switch name {
		case ReadFileToolName:
			tool = NewReadFileTool(ws, limits)
		case GlobToolName:
			tool = NewGlobTool(ws, limits)
		case ShellToolName:
			tool = NewShellTool(ws, limits, opts.ShellTimeout)
		case WriteFileToolName:
			tool = NewWriteFileTool(ws)
		default:
			return fmt.Errorf("unknown tool: %s", name)
		}
		reg.Register(tool)
	}
	return nil
}
