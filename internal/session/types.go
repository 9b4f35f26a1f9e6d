package session

import (
	"time"

	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/loop"
)

// Status records how the last loop invocation of a session ended.
type Status string

const (
	StatusBlocked   Status = "blocked"   // Waiting for approval decisions
	StatusCompleted Status = "completed" // Model answered
	StatusFailed    Status = "failed"    // Provider or transport error
	StatusExhausted Status = "exhausted" // Step budget ran out
)

// Session is one conversation with its resumable loop state.
type Session struct {
	ID        string
	Prompt    string // First user message, for listings
	Provider  string
	Model     string
	Status    Status
	State     loop.LoopState
	Flagged   []string // Call ids that triggered the block
	Error     string
	Usage     llm.Usage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is a lightweight view of a session for listing.
type Summary struct {
	ID        string
	Prompt    string
	Provider  string
	Status    Status
	Steps     int
	Pending   int
	UpdatedAt time.Time
}

// Record copies the outcome of a loop invocation into s.
func (s *Session) Record(o loop.Outcome) {
	s.Error = ""
	s.Flagged = nil
	switch o := o.(type) {
	case loop.Completed:
		s.Status = StatusCompleted
		s.State = loop.LoopState{Messages: o.Messages, StepIndex: o.Steps}
		s.Usage.Add(&o.Usage)
	case loop.Blocked:
		s.Status = StatusBlocked
		s.State = o.State
		s.Flagged = o.Flagged
		s.Usage.Add(&o.Usage)
	case loop.Failed:
		s.Status = StatusFailed
		s.State = loop.LoopState{Messages: o.Messages, StepIndex: o.Steps}
		if o.Err != nil {
			s.Error = o.Err.Error()
		}
		s.Usage.Add(&o.Usage)
	case loop.StepBudgetExhausted:
		s.Status = StatusExhausted
		s.State = loop.LoopState{Messages: o.Messages, StepIndex: o.Steps}
		s.Usage.Add(&o.Usage)
	}
}

// FirstUserText returns the text of the first user message, or "".
func FirstUserText(messages []llm.Message) string {
	for _, m := range messages {
		if m.Role == llm.RoleUser {
			return m.Text()
		}
	}
	return ""
}
