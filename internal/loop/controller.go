// Package loop drives model turns and tool execution until the model
// answers, a tool call needs approval, or the step budget runs out.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/toolcall"
)

// DefaultMaxSteps bounds the number of model turns per invocation.
const DefaultMaxSteps = 20

var (
	// ErrNoProvider is returned when the controller has no model handle.
	ErrNoProvider = errors.New("loop: no provider configured")
	// ErrNoPending is returned when resuming a state that is not blocked.
	ErrNoPending = errors.New("loop: state has no pending tool calls")
	// ErrStateMismatch is returned when the pending calls do not match the
	// last assistant message of the state.
	ErrStateMismatch = errors.New("loop: pending calls do not match history")
)

// NeedsApproval decides whether call must be confirmed before it runs. It
// sees the full history and the current step index.
type NeedsApproval func(call llm.ToolCall, history []llm.Message, step int) bool

// Option configures a Controller.
type Option func(*Controller)

func WithMaxSteps(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

func WithNeedsApproval(fn NeedsApproval) Option {
	return func(c *Controller) { c.needsApproval = fn }
}

// WithParallelTools runs the calls of one turn concurrently. Results are
// still appended in request order.
func WithParallelTools(parallel bool) Option {
	return func(c *Controller) { c.parallel = parallel }
}

func WithModel(model string) Option {
	return func(c *Controller) { c.model = model }
}

// WithSystemPrompt prepends a system message when the history has none.
func WithSystemPrompt(prompt string) Option {
	return func(c *Controller) { c.systemPrompt = prompt }
}

// WithObserver receives every stream event as it arrives.
func WithObserver(fn func(llm.Event)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithToolHook is called after each tool call resolves, including denials.
// It runs on the goroutine that called Run or Resume, in request order,
// even with parallel tools, so it needs no locking of its own.
func WithToolHook(fn func(llm.ToolCall, llm.ToolResult)) Option {
	return func(c *Controller) { c.toolHook = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller runs the tool loop against an injected provider.
type Controller struct {
	provider      llm.Provider
	tools         *llm.ToolRegistry
	maxSteps      int
	needsApproval NeedsApproval
	parallel      bool
	model         string
	systemPrompt  string
	observer      func(llm.Event)
	toolHook      func(llm.ToolCall, llm.ToolResult)
	logger        *slog.Logger
}

// New creates a controller. tools may be nil for a tool-less conversation.
func New(provider llm.Provider, tools *llm.ToolRegistry, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		tools:    tools,
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes every requested tool call without consulting the approval
// predicate. The outcome is Completed, Failed or StepBudgetExhausted.
func (c *Controller) Run(ctx context.Context, messages []llm.Message) (Outcome, error) {
	if c.provider == nil {
		return nil, ErrNoProvider
	}
	state := c.newState(messages)
	return c.drive(ctx, &state, false, llm.Usage{}), nil
}

// RunUntilBlocked is Run with the approval predicate applied: a turn in
// which any call needs approval ends the invocation with Blocked.
func (c *Controller) RunUntilBlocked(ctx context.Context, messages []llm.Message) (Outcome, error) {
	if c.provider == nil {
		return nil, ErrNoProvider
	}
	state := c.newState(messages)
	return c.drive(ctx, &state, true, llm.Usage{}), nil
}

// Resume continues a Blocked state. Approved calls are executed; denied
// calls, and calls without a decision, receive an explicit denial result.
// Results are appended in the original request order.
func (c *Controller) Resume(ctx context.Context, state LoopState, decisions Decisions) (Outcome, error) {
	if c.provider == nil {
		return nil, ErrNoProvider
	}
	if len(state.Pending) == 0 {
		return nil, ErrNoPending
	}
	if err := checkPending(state); err != nil {
		return nil, err
	}

	st := LoopState{
		Messages:  slices.Clone(state.Messages),
		StepIndex: state.StepIndex,
	}
	pending := state.Pending

	results, err := c.execute(ctx, pending, func(call llm.ToolCall) bool {
		return decisions[call.ID] == Approve
	})
	if err != nil {
		// The blocked turn stays blocked; hand back the untouched history.
		return Failed{Messages: st.Messages, Err: err, Steps: st.StepIndex}, nil
	}
	for _, r := range results {
		st.Messages = append(st.Messages, llm.ToolResultMessage(r))
	}
	st.StepIndex++
	return c.drive(ctx, &st, true, llm.Usage{}), nil
}

func (c *Controller) newState(messages []llm.Message) LoopState {
	msgs := slices.Clone(messages)
	if c.systemPrompt != "" && (len(msgs) == 0 || msgs[0].Role != llm.RoleSystem) {
		msgs = append([]llm.Message{llm.SystemText(c.systemPrompt)}, msgs...)
	}
	return LoopState{Messages: msgs}
}

func checkPending(state LoopState) error {
	if len(state.Messages) == 0 {
		return ErrStateMismatch
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Role != llm.RoleAssistant {
		return ErrStateMismatch
	}
	calls := last.ToolCalls()
	if len(calls) != len(state.Pending) {
		return ErrStateMismatch
	}
	for i := range calls {
		if calls[i].ID != state.Pending[i].ID {
			return ErrStateMismatch
		}
	}
	return nil
}

// drive runs turns until a terminal outcome. A turn's assistant message and
// its tool results are appended together, so a failed or cancelled turn
// leaves state.Messages as it was.
func (c *Controller) drive(ctx context.Context, state *LoopState, allowBlock bool, usage llm.Usage) Outcome {
	for {
		if state.StepIndex >= c.maxSteps {
			c.logger.Debug("step budget exhausted", "steps", state.StepIndex, "max_steps", c.maxSteps)
			return StepBudgetExhausted{Messages: state.Messages, Usage: usage, Steps: state.StepIndex, MaxSteps: c.maxSteps}
		}

		result, err := c.turn(ctx, state.Messages)
		usage.Add(result.usage)
		if err != nil {
			c.logger.Debug("turn failed", "step", state.StepIndex, "error", err)
			return Failed{
				Messages:         state.Messages,
				Err:              err,
				PartialText:      result.partialText,
				PartialReasoning: result.partialReasoning,
				Usage:            usage,
				Steps:            state.StepIndex,
			}
		}

		resp := result.response
		resp.ToolCalls = ensureCallIDs(resp.ToolCalls)
		assistant := llm.AssistantMessage(resp)
		c.logger.Debug("turn completed", "step", state.StepIndex, "tool_calls", len(resp.ToolCalls), "finish_reason", resp.FinishReason)

		if len(resp.ToolCalls) == 0 {
			state.Messages = append(state.Messages, assistant)
			return Completed{
				Messages: state.Messages,
				Response: resp,
				Usage:    usage,
				Warnings: result.warnings,
				Steps:    state.StepIndex,
			}
		}

		if allowBlock && c.needsApproval != nil {
			// Evaluate every call before anything runs.
			var flagged []string
			for _, call := range resp.ToolCalls {
				if c.needsApproval(call, state.Messages, state.StepIndex) {
					flagged = append(flagged, call.ID)
				}
			}
			if len(flagged) > 0 {
				state.Messages = append(state.Messages, assistant)
				state.Pending = resp.ToolCalls
				c.logger.Debug("turn blocked", "step", state.StepIndex, "flagged", len(flagged))
				return Blocked{State: *state, Flagged: flagged, Usage: usage}
			}
		}

		results, err := c.execute(ctx, resp.ToolCalls, nil)
		if err != nil {
			return Failed{
				Messages:         state.Messages,
				Err:              err,
				PartialText:      resp.Text,
				PartialReasoning: resp.Reasoning,
				Usage:            usage,
				Steps:            state.StepIndex,
			}
		}

		next := make([]llm.Message, 0, len(state.Messages)+1+len(results))
		next = append(next, state.Messages...)
		next = append(next, assistant)
		for _, r := range results {
			next = append(next, llm.ToolResultMessage(r))
		}
		state.Messages = next
		state.StepIndex++
	}
}

type turnResult struct {
	response         llm.Response
	usage            *llm.Usage
	warnings         []string
	partialText      string
	partialReasoning string
}

// turn sends one request and consumes its stream up to the terminal event.
func (c *Controller) turn(ctx context.Context, messages []llm.Message) (turnResult, error) {
	var result turnResult
	if err := ctx.Err(); err != nil {
		return result, err
	}

	req := llm.Request{
		Model:             c.model,
		Messages:          messages,
		Tools:             c.tools.AllSpecs(),
		ParallelToolCalls: c.parallel,
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = llm.ToolChoice{Mode: llm.ToolChoiceAuto}
	}

	stream, err := c.provider.Stream(ctx, req)
	if err != nil {
		return result, err
	}
	defer stream.Close()

	var text, reasoning strings.Builder
	partial := func() {
		result.partialText = text.String()
		result.partialReasoning = reasoning.String()
	}

	for {
		ev, err := stream.Recv()
		if err != nil {
			partial()
			if errors.Is(err, io.EOF) {
				return result, fmt.Errorf("%s: stream ended without a completion", c.provider.Name())
			}
			return result, err
		}
		// Events that arrive after cancellation are not delivered.
		if ctxErr := ctx.Err(); ctxErr != nil {
			partial()
			return result, ctxErr
		}
		if c.observer != nil {
			c.observer(ev)
		}

		switch ev := ev.(type) {
		case llm.TextDelta:
			text.WriteString(ev.Text)
		case llm.ReasoningDelta:
			reasoning.WriteString(ev.Text)
		case llm.ToolCallDelta:
			// Calls are taken from the closed set in Completion.
		case llm.Completion:
			resp := ev.Response
			if resp.Text == "" {
				resp.Text = text.String()
			}
			if resp.Reasoning == "" {
				resp.Reasoning = reasoning.String()
			}
			result.response = resp
			result.usage = ev.Usage
			result.warnings = ev.Warnings
			return result, nil
		case llm.ErrorEvent:
			partial()
			return result, ev.Err
		default:
			partial()
			return result, fmt.Errorf("unexpected stream event %T", ev)
		}
	}
}

// ensureCallIDs fills missing ids and replaces duplicates so each result
// can be matched to exactly one call.
func ensureCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	seen := make(map[string]bool, len(calls))
	for i := range calls {
		if calls[i].ID == "" || seen[calls[i].ID] {
			calls[i].ID = toolcall.NewID()
		}
		seen[calls[i].ID] = true
	}
	return calls
}
