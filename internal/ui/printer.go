package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samsaffron/llmloop/internal/llm"
)

// Printer writes streamed model output and tool activity. Text goes to
// Out; reasoning and tool status lines go to Status.
type Printer struct {
	Out    io.Writer
	Status io.Writer
	Styles *Styles
	// Stream writes text deltas as they arrive. When false the caller
	// renders the final answer itself.
	Stream    bool
	Reasoning bool
	// Describe returns a short preview for a call; optional.
	Describe func(llm.ToolCall) string

	mu          sync.Mutex
	inReasoning bool
	wroteText   bool
}

// Event handles one stream event. It has the signature of a loop observer.
func (p *Printer) Event(ev llm.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := ev.(type) {
	case llm.TextDelta:
		p.endReasoning()
		if p.Stream {
			io.WriteString(p.Out, ev.Text)
			p.wroteText = true
		}
	case llm.ReasoningDelta:
		if !p.Reasoning {
			return
		}
		p.inReasoning = true
		io.WriteString(p.Status, p.Styles.Reasoning.Render(ev.Text))
	case llm.Completion:
		p.endReasoning()
		if p.wroteText {
			io.WriteString(p.Out, "\n")
			p.wroteText = false
		}
	}
}

func (p *Printer) endReasoning() {
	if p.inReasoning {
		io.WriteString(p.Status, "\n")
		p.inReasoning = false
	}
}

// Tool writes the status line for a resolved call. It has the signature of
// a loop tool hook.
func (p *Printer) Tool(call llm.ToolCall, result llm.ToolResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.Status, ToolLine(p.Styles, call, result, p.describe(call)))
}

func (p *Printer) describe(call llm.ToolCall) string {
	if p.Describe == nil {
		return ""
	}
	return p.Describe(call)
}

// ToolLine formats a resolved call as "<mark> name preview", followed by
// the first line of the result when it failed.
func ToolLine(s *Styles, call llm.ToolCall, result llm.ToolResult, preview string) string {
	var mark string
	switch result.Kind {
	case llm.ResultDenied:
		mark = s.Warning.Render("⊘")
	case llm.ResultError:
		mark = s.Error.Render("✗")
	default:
		mark = s.Success.Render("✓")
	}
	line := mark + " " + s.Tool.Render(call.Name)
	if preview != "" {
		line += " " + s.Preview.Render(preview)
	}
	if result.Kind == llm.ResultError {
		first, _, _ := strings.Cut(strings.TrimSpace(result.Content), "\n")
		if first != "" {
			line += s.Muted.Render(": " + truncate(first, 80))
		}
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
