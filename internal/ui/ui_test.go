package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/loop"
	"github.com/stretchr/testify/assert"
)

func TestPrinterStreamsTextAndReasoning(t *testing.T) {
	var out, status bytes.Buffer
	p := &Printer{Out: &out, Status: &status, Styles: PlainStyles(), Stream: true, Reasoning: true}

	p.Event(llm.ReasoningDelta{Text: "thinking"})
	p.Event(llm.TextDelta{Text: "Hello"})
	p.Event(llm.TextDelta{Text: " world"})
	p.Event(llm.Completion{})

	assert.Equal(t, "Hello world\n", out.String())
	assert.Equal(t, "thinking\n", status.String())
}

func TestPrinterQuietWhenNotStreaming(t *testing.T) {
	var out, status bytes.Buffer
	p := &Printer{Out: &out, Status: &status, Styles: PlainStyles()}

	p.Event(llm.ReasoningDelta{Text: "thinking"})
	p.Event(llm.TextDelta{Text: "Hello"})
	p.Event(llm.Completion{})

	assert.Empty(t, out.String())
	assert.Empty(t, status.String())
}

func TestToolLine(t *testing.T) {
	s := PlainStyles()
	call := llm.ToolCall{ID: "c1", Name: "shell"}

	assert.Equal(t, "✓ shell ls", ToolLine(s, call, llm.ToolResult{Kind: llm.ResultText}, "ls"))
	assert.Equal(t, "⊘ shell", ToolLine(s, call, llm.DeniedResult(call), ""))
	assert.Equal(t, "✗ shell make: Error [TIMEOUT]: too slow",
		ToolLine(s, call, llm.ToolResult{Kind: llm.ResultError, Content: "Error [TIMEOUT]: too slow\nmore"}, "make"))
}

func TestPrinterToolUsesDescribe(t *testing.T) {
	var status bytes.Buffer
	p := &Printer{Status: &status, Styles: PlainStyles(), Describe: func(c llm.ToolCall) string { return "go.mod" }}
	p.Tool(llm.ToolCall{Name: "read_file"}, llm.ToolResult{Kind: llm.ResultText})
	assert.Equal(t, "✓ read_file go.mod\n", status.String())
}

func TestDecide(t *testing.T) {
	calls := []llm.ToolCall{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	d := Decide(calls, []string{"c", "a", "zzz"})
	assert.Equal(t, loop.Decisions{"a": loop.Approve, "b": loop.Deny, "c": loop.Approve}, d)
}

func TestRunStatsRender(t *testing.T) {
	s := NewRunStats()
	s.StartTime = time.Now().Add(-2 * time.Second)
	s.Steps = 3
	s.Usage = llm.Usage{InputTokens: 12500, OutputTokens: 340, CachedInputTokens: 2000}
	s.ToolDone(llm.ToolResult{Kind: llm.ResultText})
	s.ToolDone(llm.ToolResult{Kind: llm.ResultDenied})

	got := s.Render()
	assert.True(t, strings.HasSuffix(got, "| 3 steps | 12.5k in / 340 out (2.0k cached) | 2 tools (1 denied)"), got)
}

func TestRenderMarkdown(t *testing.T) {
	assert.Equal(t, "", RenderMarkdown("", 80))
	out := RenderMarkdown("# Title\n\nSome **bold** text.", 80)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "bold")
}
