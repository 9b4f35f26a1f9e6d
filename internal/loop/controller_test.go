package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/testutil"
)

type fnTool struct {
	name string
	fn   func(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error)
}

func (t *fnTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.name, Description: t.name, Schema: map[string]interface{}{"type": "object"}}
}

func (t *fnTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	return t.fn(ctx, args)
}

func (t *fnTool) Preview(json.RawMessage) string { return "" }

func echoTool(name string, counter *atomic.Int32) *fnTool {
	return &fnTool{name: name, fn: func(_ context.Context, args json.RawMessage) (llm.ToolOutput, error) {
		if counter != nil {
			counter.Add(1)
		}
		return llm.TextOutput(name + ":" + string(args)), nil
	}}
}

func registry(tools ...llm.Tool) *llm.ToolRegistry {
	r := llm.NewToolRegistry()
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func lastResults(msgs []llm.Message, n int) []llm.ToolResult {
	var out []llm.ToolResult
	for _, m := range msgs[len(msgs)-n:] {
		r, ok := m.ToolResult()
		if ok {
			out = append(out, r)
		}
	}
	return out
}

func TestRunCompletesWithoutTools(t *testing.T) {
	p := &testutil.ScriptedProvider{Script: func(int, llm.Request) []llm.Event { return testutil.Answer("hello") }}
	c := New(p, nil, WithSystemPrompt("be brief"))

	out, err := c.Run(context.Background(), []llm.Message{llm.UserText("hi")})
	require.NoError(t, err)

	done, ok := out.(Completed)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "hello", done.Response.Text)
	assert.Equal(t, 0, done.Steps)
	require.Len(t, done.Messages, 3)
	assert.Equal(t, llm.RoleSystem, done.Messages[0].Role)
	assert.Equal(t, llm.AssistantText("hello"), done.Messages[2])
	assert.Equal(t, 10, done.Usage.InputTokens)

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Tools)
}

func TestRunExecutesToolsAndFeedsResultsBack(t *testing.T) {
	var executed atomic.Int32
	p := &testutil.ScriptedProvider{Script: func(n int, req llm.Request) []llm.Event {
		if n == 0 {
			return testutil.ToolTurn(call("c1", "lookup", `{"q":"go"}`))
		}
		return testutil.Answer("found it")
	}}
	c := New(p, registry(echoTool("lookup", &executed)))

	initial := []llm.Message{llm.UserText("search")}
	out, err := c.Run(context.Background(), initial)
	require.NoError(t, err)

	done, ok := out.(Completed)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, int32(1), executed.Load())
	assert.Equal(t, 1, done.Steps)
	assert.Equal(t, 15, done.Usage.InputTokens)
	require.Len(t, done.Messages, 4)
	assert.Equal(t, []llm.ToolCall{call("c1", "lookup", `{"q":"go"}`)}, done.Messages[1].ToolCalls())

	result, ok := done.Messages[2].ToolResult()
	require.True(t, ok)
	assert.Equal(t, llm.ToolResult{ToolCallID: "c1", Name: "lookup", Content: `lookup:{"q":"go"}`, Kind: llm.ResultText}, result)

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3)
	require.Len(t, reqs[1].Tools, 1)
	assert.Equal(t, llm.ToolChoiceAuto, reqs[1].ToolChoice.Mode)
	assert.Len(t, initial, 1, "caller's slice is not modified")
}

func TestParallelResultsKeepRequestOrder(t *testing.T) {
	var finished []string
	var mu sync.Mutex
	record := func(id string) {
		mu.Lock()
		finished = append(finished, id)
		mu.Unlock()
	}

	bDone := make(chan struct{})
	slowA := &fnTool{name: "a", fn: func(ctx context.Context, _ json.RawMessage) (llm.ToolOutput, error) {
		<-bDone // A finishes only after B
		record("A")
		return llm.TextOutput("resultA"), nil
	}}
	fastB := &fnTool{name: "b", fn: func(context.Context, json.RawMessage) (llm.ToolOutput, error) {
		record("B")
		close(bDone)
		return llm.TextOutput("resultB"), nil
	}}

	p := &testutil.ScriptedProvider{Script: func(n int, _ llm.Request) []llm.Event {
		if n == 0 {
			return testutil.ToolTurn(call("A", "a", `{}`), call("B", "b", `{}`))
		}
		return testutil.Answer("ok")
	}}
	var hooked []string
	c := New(p, registry(slowA, fastB), WithParallelTools(true), WithToolHook(func(call llm.ToolCall, _ llm.ToolResult) {
		hooked = append(hooked, call.ID)
	}))

	out, err := c.Run(context.Background(), []llm.Message{llm.UserText("go")})
	require.NoError(t, err)
	done := out.(Completed)

	assert.Equal(t, []string{"B", "A"}, finished, "B completes first")
	assert.Equal(t, []string{"A", "B"}, hooked, "hook follows request order")
	results := lastResults(done.Messages[:len(done.Messages)-1], 2)
	require.Len(t, results, 2)
	assert.Equal(t, "resultA", results[0].Content)
	assert.Equal(t, "resultB", results[1].Content)
}

// The hook mutates plain state without locking; under -race this fails if
// the hook is ever called from the tool goroutines.
func TestParallelToolHookRunsOnCallerGoroutine(t *testing.T) {
	const n = 8
	calls := make([]llm.ToolCall, n)
	for i := range calls {
		calls[i] = call(fmt.Sprintf("c%d", i), "echo", `{}`)
	}
	p := testutil.Replay(testutil.ToolTurn(calls...), testutil.Answer("ok"))

	var count, denied int
	var order []string
	c := New(p, registry(echoTool("echo", nil)), WithParallelTools(true), WithToolHook(func(call llm.ToolCall, r llm.ToolResult) {
		count++
		if r.Kind == llm.ResultDenied {
			denied++
		}
		order = append(order, call.ID)
	}))

	out, err := c.Run(context.Background(), []llm.Message{llm.UserText("go")})
	require.NoError(t, err)
	require.IsType(t, Completed{}, out)
	assert.Equal(t, n, count)
	assert.Zero(t, denied)
	want := make([]string, n)
	for i := range want {
		want[i] = calls[i].ID
	}
	assert.Equal(t, want, order)
}

func TestMissingHandlerAndToolErrorsAreResults(t *testing.T) {
	failing := &fnTool{name: "broken", fn: func(context.Context, json.RawMessage) (llm.ToolOutput, error) {
		return llm.ToolOutput{}, errors.New("disk on fire")
	}}
	p := &testutil.ScriptedProvider{Script: func(n int, _ llm.Request) []llm.Event {
		if n == 0 {
			return testutil.ToolTurn(call("1", "nope", `{}`), call("2", "broken", `{}`), call("3", "broken", `{"x":`))
		}
		return testutil.Answer("recovered")
	}}
	c := New(p, registry(failing))

	out, err := c.Run(context.Background(), []llm.Message{llm.UserText("go")})
	require.NoError(t, err)
	done, ok := out.(Completed)
	require.True(t, ok, "got %T", out)

	results := lastResults(done.Messages[:len(done.Messages)-1], 3)
	require.Len(t, results, 3)
	assert.Equal(t, "Error: tool not registered: nope", results[0].Content)
	assert.Equal(t, "Error: disk on fire", results[1].Content)
	assert.Contains(t, results[2].Content, "invalid JSON arguments")
	for _, r := range results {
		assert.True(t, r.IsError())
	}
}

func TestBlockedThenDeniedResumes(t *testing.T) {
	var executed atomic.Int32
	var seenStep = -1
	var seenHistory int
	p := &testutil.ScriptedProvider{Script: func(n int, _ llm.Request) []llm.Event {
		if n == 0 {
			return testutil.ToolTurn(call("sh1", "shell", `{"command":"rm -rf /"}`))
		}
		return testutil.Answer("understood")
	}}
	c := New(p, registry(echoTool("shell", &executed)),
		WithMaxSteps(5),
		WithNeedsApproval(func(call llm.ToolCall, history []llm.Message, step int) bool {
			seenStep, seenHistory = step, len(history)
			return call.Name == "shell"
		}))

	out, err := c.RunUntilBlocked(context.Background(), []llm.Message{llm.UserText("clean up")})
	require.NoError(t, err)

	blocked, ok := out.(Blocked)
	require.True(t, ok, "got %T", out)
	require.Len(t, blocked.Calls(), 1)
	assert.Equal(t, "sh1", blocked.Calls()[0].ID)
	assert.True(t, blocked.IsFlagged("sh1"))
	assert.Equal(t, 0, blocked.State.StepIndex)
	assert.Equal(t, 0, seenStep)
	assert.Equal(t, 1, seenHistory)
	assert.Equal(t, int32(0), executed.Load(), "nothing runs before approval")

	out, err = c.Resume(context.Background(), blocked.State, Decisions{"sh1": Deny})
	require.NoError(t, err)
	done, ok := out.(Completed)
	require.True(t, ok, "got %T", out)

	assert.Equal(t, 1, done.Steps)
	assert.Equal(t, int32(0), executed.Load())
	result, ok := done.Messages[2].ToolResult()
	require.True(t, ok)
	assert.Equal(t, "sh1", result.ToolCallID)
	assert.Equal(t, llm.ResultDenied, result.Kind)
	assert.Contains(t, result.Content, "denied")
}

func TestBlockExposesWholeTurnAndResumeKeepsOrder(t *testing.T) {
	var safeRuns, riskyRuns atomic.Int32
	p := &testutil.ScriptedProvider{Script: func(n int, _ llm.Request) []llm.Event {
		if n == 0 {
			return testutil.ToolTurn(call("r", "risky", `{}`), call("s", "safe", `{}`), call("r2", "risky", `{"n":2}`))
		}
		return testutil.Answer("done")
	}}
	c := New(p, registry(echoTool("risky", &riskyRuns), echoTool("safe", &safeRuns)),
		WithNeedsApproval(func(call llm.ToolCall, _ []llm.Message, _ int) bool { return call.Name == "risky" }))

	out, err := c.RunUntilBlocked(context.Background(), []llm.Message{llm.UserText("x")})
	require.NoError(t, err)
	blocked := out.(Blocked)
	require.Len(t, blocked.Calls(), 3)
	assert.Equal(t, []string{"r", "r2"}, blocked.Flagged)
	assert.Equal(t, int32(0), safeRuns.Load()+riskyRuns.Load())

	// Approve the second risky call and the safe one; the first has no decision.
	out, err = c.Resume(context.Background(), blocked.State, Decisions{"r2": Approve, "s": Approve})
	require.NoError(t, err)
	done := out.(Completed)

	assert.Equal(t, int32(1), safeRuns.Load())
	assert.Equal(t, int32(1), riskyRuns.Load())
	results := lastResults(done.Messages[:len(done.Messages)-1], 3)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"r", "s", "r2"}, []string{results[0].ToolCallID, results[1].ToolCallID, results[2].ToolCallID})
	assert.Equal(t, llm.ResultDenied, results[0].Kind)
	assert.Equal(t, llm.ResultText, results[1].Kind)
	assert.Equal(t, `risky:{"n":2}`, results[2].Content)
}

func TestRunIgnoresApprovalPredicate(t *testing.T) {
	var executed atomic.Int32
	p := &testutil.ScriptedProvider{Script: func(n int, _ llm.Request) []llm.Event {
		if n == 0 {
			return testutil.ToolTurn(call("1", "shell", `{}`))
		}
		return testutil.Answer("ok")
	}}
	c := New(p, registry(echoTool("shell", &executed)),
		WithNeedsApproval(func(llm.ToolCall, []llm.Message, int) bool { return true }))

	out, err := c.Run(context.Background(), []llm.Message{llm.UserText("x")})
	require.NoError(t, err)
	assert.IsType(t, Completed{}, out)
	assert.Equal(t, int32(1), executed.Load())
}

func TestStepBudgetExhausted(t *testing.T) {
	var executed atomic.Int32
	p := &testutil.ScriptedProvider{Script: func(n int, _ llm.Request) []llm.Event {
		return testutil.ToolTurn(call("loop", "again", `{}`))
	}}
	c := New(p, registry(echoTool("again", &executed)), WithMaxSteps(1))

	out, err := c.Run(context.Background(), []llm.Message{llm.UserText("spin")})
	require.NoError(t, err)

	exhausted, ok := out.(StepBudgetExhausted)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, 1, exhausted.Steps)
	assert.Equal(t, 1, exhausted.MaxSteps)
	assert.Len(t, p.Requests(), 1, "no second request is issued")
	assert.Equal(t, int32(1), executed.Load())
	assert.Len(t, exhausted.Messages, 3)
}

func TestCancelMidStreamLeavesHistoryUntouched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &testutil.ScriptedProvider{Script: func(int, llm.Request) []llm.Event {
		return []llm.Event{
			llm.TextDelta{Text: "partial "},
			llm.TextDelta{Text: "never seen"},
			llm.Completion{Response: llm.Response{Text: "partial never seen"}},
		}
	}}
	var observed []llm.Event
	c := New(p, nil, WithObserver(func(ev llm.Event) {
		observed = append(observed, ev)
		cancel()
	}))

	initial := []llm.Message{llm.UserText("a"), llm.AssistantText("b"), llm.UserText("c")}
	out, err := c.Run(ctx, initial)
	require.NoError(t, err)

	failed, ok := out.(Failed)
	require.True(t, ok, "got %T", out)
	assert.ErrorIs(t, failed.Err, context.Canceled)
	assert.Len(t, failed.Messages, len(initial))
	assert.Equal(t, "partial ", failed.PartialText)
	assert.Len(t, observed, 1, "no events after cancellation")
}

func TestCancelDuringToolExecutionAppendsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocking := &fnTool{name: "wait", fn: func(ctx context.Context, _ json.RawMessage) (llm.ToolOutput, error) {
		cancel()
		<-ctx.Done()
		return llm.ToolOutput{}, ctx.Err()
	}}
	p := &testutil.ScriptedProvider{Script: func(int, llm.Request) []llm.Event {
		return testutil.ToolTurn(call("w", "wait", `{}`))
	}}
	c := New(p, registry(blocking))

	out, err := c.Run(ctx, []llm.Message{llm.UserText("go")})
	require.NoError(t, err)
	failed, ok := out.(Failed)
	require.True(t, ok, "got %T", out)
	assert.ErrorIs(t, failed.Err, context.Canceled)
	assert.Len(t, failed.Messages, 1)
}

func TestErrorEventFailsWithPartialText(t *testing.T) {
	boom := &llm.ProviderError{Provider: "fake", StatusCode: 529, Message: "overloaded"}
	p := &testutil.ScriptedProvider{Script: func(int, llm.Request) []llm.Event {
		return []llm.Event{
			llm.ReasoningDelta{Text: "hmm"},
			llm.TextDelta{Text: "Half an ans"},
			llm.ErrorEvent{Err: boom},
		}
	}}
	c := New(p, nil)

	out, err := c.RunUntilBlocked(context.Background(), []llm.Message{llm.UserText("q")})
	require.NoError(t, err)
	failed, ok := out.(Failed)
	require.True(t, ok, "got %T", out)
	assert.ErrorIs(t, failed.Err, boom)
	assert.Equal(t, "Half an ans", failed.PartialText)
	assert.Equal(t, "hmm", failed.PartialReasoning)
	assert.Len(t, failed.Messages, 1)
	assert.Len(t, p.Requests(), 1, "errors are not retried")
}

func TestStreamWithoutTerminalEventFails(t *testing.T) {
	p := &testutil.ScriptedProvider{Script: func(int, llm.Request) []llm.Event {
		return []llm.Event{llm.TextDelta{Text: "dangling"}}
	}}
	out, err := New(p, nil).Run(context.Background(), []llm.Message{llm.UserText("q")})
	require.NoError(t, err)
	failed := out.(Failed)
	assert.Equal(t, "dangling", failed.PartialText)
}

func TestMissingAndDuplicateCallIDsAreRepaired(t *testing.T) {
	p := &testutil.ScriptedProvider{Script: func(n int, _ llm.Request) []llm.Event {
		if n == 0 {
			return testutil.ToolTurn(call("", "e", `{}`), call("dup", "e", `{}`), call("dup", "e", `{}`))
		}
		return testutil.Answer("ok")
	}}
	out, err := New(p, registry(echoTool("e", nil))).Run(context.Background(), []llm.Message{llm.UserText("q")})
	require.NoError(t, err)
	done := out.(Completed)

	ids := map[string]bool{}
	for _, c := range done.Messages[1].ToolCalls() {
		require.NotEmpty(t, c.ID)
		ids[c.ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestResumeValidatesState(t *testing.T) {
	c := New(&testutil.ScriptedProvider{Script: func(int, llm.Request) []llm.Event { return testutil.Answer("x") }}, nil)

	_, err := c.Resume(context.Background(), LoopState{Messages: []llm.Message{llm.UserText("q")}}, nil)
	assert.ErrorIs(t, err, ErrNoPending)

	_, err = c.Resume(context.Background(), LoopState{
		Messages: []llm.Message{llm.UserText("q")},
		Pending:  []llm.ToolCall{call("1", "t", `{}`)},
	}, nil)
	assert.ErrorIs(t, err, ErrStateMismatch)

	_, err = New(nil, nil).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestCompletedHistoryRoundTripsToSameRequest(t *testing.T) {
	p := &testutil.ScriptedProvider{Script: func(n int, _ llm.Request) []llm.Event {
		switch n {
		case 0:
			return append([]llm.Event{llm.ReasoningDelta{Text: "plan"}}, testutil.ToolTurn(call("c", "lookup", `{"q":"x"}`))...)
		default:
			return testutil.Answer("final")
		}
	}}
	c := New(p, registry(echoTool("lookup", nil)))
	out, err := c.Run(context.Background(), []llm.Message{llm.UserText("q")})
	require.NoError(t, err)
	done := out.(Completed)

	data, err := llm.MarshalTranscript(done.Messages)
	require.NoError(t, err)
	restored, err := llm.UnmarshalTranscript(data)
	require.NoError(t, err)
	assert.Equal(t, done.Messages, restored)

	again, err := llm.MarshalTranscript(restored)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))

	follow := func(history []llm.Message) llm.Request {
		fp := &testutil.ScriptedProvider{Script: func(int, llm.Request) []llm.Event { return testutil.Answer("next") }}
		_, err := New(fp, registry(echoTool("lookup", nil))).Run(context.Background(), append(history, llm.UserText("more")))
		require.NoError(t, err)
		return fp.Requests()[0]
	}
	assert.Equal(t, follow(done.Messages), follow(restored))
}
