package ui

import (
	"fmt"
	"time"

	"github.com/samsaffron/llmloop/internal/llm"
)

// RunStats tracks one loop invocation for the summary line.
type RunStats struct {
	StartTime time.Time
	Usage     llm.Usage
	Steps     int
	ToolCalls int
	Denied    int
}

// NewRunStats creates a RunStats with StartTime set to now.
func NewRunStats() *RunStats {
	return &RunStats{StartTime: time.Now()}
}

// ToolDone counts a resolved tool call.
func (s *RunStats) ToolDone(result llm.ToolResult) {
	s.ToolCalls++
	if result.Kind == llm.ResultDenied {
		s.Denied++
	}
}

// Render returns the stats as a compact single-line string.
func (s *RunStats) Render() string {
	total := time.Since(s.StartTime)
	out := fmt.Sprintf("%.1fs | %d steps | %s in / %s out",
		total.Seconds(), s.Steps,
		formatTokenCount(s.Usage.InputTokens),
		formatTokenCount(s.Usage.OutputTokens))
	if s.Usage.CachedInputTokens > 0 {
		out += fmt.Sprintf(" (%s cached)", formatTokenCount(s.Usage.CachedInputTokens))
	}
	out += fmt.Sprintf(" | %d tools", s.ToolCalls)
	if s.Denied > 0 {
		out += fmt.Sprintf(" (%d denied)", s.Denied)
	}
	return out
}

// formatTokenCount formats a token count with k/M suffixes.
func formatTokenCount(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}
