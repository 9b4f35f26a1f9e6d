package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/samsaffron/llmloop/internal/llm"
)

// execute resolves every call into a result, in call order. When approved
// is non-nil, calls it rejects get a denial result instead of running. The
// error is non-nil only when ctx was cancelled, in which case no results
// are returned. The tool hook always runs on the calling goroutine in call
// order: after each call when sequential, after the whole batch when
// parallel.
func (c *Controller) execute(ctx context.Context, calls []llm.ToolCall, approved func(llm.ToolCall) bool) ([]llm.ToolResult, error) {
	results := make([]llm.ToolResult, len(calls))

	run := func(i int) {
		call := calls[i]
		if approved != nil && !approved(call) {
			results[i] = llm.DeniedResult(call)
		} else {
			results[i] = c.executeOne(ctx, call)
		}
	}

	if c.parallel && len(calls) > 1 {
		var wg sync.WaitGroup
		for i := range calls {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				run(idx)
			}(i)
		}
		wg.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range calls {
			c.notify(calls[i], results[i])
		}
		return results, nil
	}

	for i := range calls {
		if ctx.Err() != nil {
			break
		}
		run(i)
		if ctx.Err() == nil {
			c.notify(calls[i], results[i])
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Controller) notify(call llm.ToolCall, result llm.ToolResult) {
	if c.toolHook != nil {
		c.toolHook(call, result)
	}
}

func (c *Controller) executeOne(ctx context.Context, call llm.ToolCall) (result llm.ToolResult) {
	tool, ok := c.tools.Get(call.Name)
	if !ok {
		return llm.ToolErrorResult(call, fmt.Sprintf("Error: tool not registered: %s", call.Name))
	}
	if !json.Valid(call.Arguments) {
		return llm.ToolErrorResult(call, fmt.Sprintf("Error: invalid JSON arguments for %s: %s", call.Name, truncate(string(call.Arguments), 200)))
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("tool panicked", "tool", call.Name, "call_id", call.ID, "panic", r)
			result = llm.ToolErrorResult(call, fmt.Sprintf("Error: tool %s panicked: %v", call.Name, r))
		}
	}()

	out, err := tool.Execute(llm.ContextWithCallID(ctx, call.ID), call.Arguments)
	if err != nil {
		return llm.ToolErrorResult(call, fmt.Sprintf("Error: %v", err))
	}
	kind := out.Kind
	if kind == "" {
		kind = llm.ResultText
	}
	return llm.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    out.Content,
		Kind:       kind,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
