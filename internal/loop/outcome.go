package loop

import "github.com/samsaffron/llmloop/internal/llm"

// LoopState is the resumable state of one conversation. Messages is owned
// exclusively by whoever holds the state.
type LoopState struct {
	Messages  []llm.Message
	StepIndex int
	// Pending holds every tool call of the turn that blocked, in request
	// order. The assistant message carrying them is the last entry of
	// Messages.
	Pending []llm.ToolCall
}

// Outcome is the typed result of a loop invocation. The variants are
// Completed, Blocked, Failed and StepBudgetExhausted.
type Outcome interface {
	outcome()
}

// Completed means the model answered without requesting more tools.
type Completed struct {
	Messages []llm.Message
	Response llm.Response
	Usage    llm.Usage
	Warnings []string
	Steps    int
}

// Blocked means at least one tool call in the last turn needs approval.
// Nothing from that turn has been executed.
type Blocked struct {
	State LoopState
	// Flagged lists the ids of the calls that triggered the block. The
	// remaining pending calls would have run without approval.
	Flagged []string
	Usage   llm.Usage
}

// Calls returns every call of the blocked turn in request order.
func (b Blocked) Calls() []llm.ToolCall {
	return b.State.Pending
}

// IsFlagged reports whether the call with id required approval.
func (b Blocked) IsFlagged(id string) bool {
	for _, f := range b.Flagged {
		if f == id {
			return true
		}
	}
	return false
}

// Failed carries the error that ended the loop. Messages is the history as
// it stood before the failed turn; whatever the model streamed before the
// failure is kept in PartialText and PartialReasoning.
type Failed struct {
	Messages         []llm.Message
	Err              error
	PartialText      string
	PartialReasoning string
	Usage            llm.Usage
	Steps            int
}

// StepBudgetExhausted means MaxSteps turns ran without a final answer.
type StepBudgetExhausted struct {
	Messages []llm.Message
	Usage    llm.Usage
	Steps    int
	MaxSteps int
}

func (Completed) outcome()           {}
func (Blocked) outcome()             {}
func (Failed) outcome()              {}
func (StepBudgetExhausted) outcome() {}

var (
	_ Outcome = Completed{}
	_ Outcome = Blocked{}
	_ Outcome = Failed{}
	_ Outcome = StepBudgetExhausted{}
)

// Decision is the caller's verdict on one pending tool call.
type Decision int

const (
	// Deny is the zero value: calls without an explicit decision are denied.
	Deny Decision = iota
	Approve
)

func (d Decision) String() string {
	if d == Approve {
		return "approve"
	}
	return "deny"
}

// Decisions maps tool call ids to verdicts.
type Decisions map[string]Decision

// ApproveAll returns decisions approving every pending call.
func ApproveAll(calls []llm.ToolCall) Decisions {
	d := make(Decisions, len(calls))
	for _, c := range calls {
		d[c.ID] = Approve
	}
	return d
}
