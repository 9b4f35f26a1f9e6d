package llm

// Event is a streamed output update. The set of variants is closed:
// TextDelta, ReasoningDelta, ToolCallDelta, Completion and ErrorEvent.
type Event interface {
	event()
}

// TextDelta carries visible assistant text.
type TextDelta struct {
	Text string
}

// ReasoningDelta carries model reasoning, either from a dedicated channel or
// extracted from inline think tags.
type ReasoningDelta struct {
	Text string
}

// ToolCallDelta reports one tool-call fragment together with the
// accumulated snapshot of the call it belongs to.
type ToolCallDelta struct {
	Partial  PartialToolCall
	Snapshot ToolCall
}

// Completion ends a successful stream.
type Completion struct {
	Response Response
	Usage    *Usage
	Warnings []string
}

// ErrorEvent ends a failed stream.
type ErrorEvent struct {
	Err error
}

func (TextDelta) event()      {}
func (ReasoningDelta) event() {}
func (ToolCallDelta) event()  {}
func (Completion) event()     {}
func (ErrorEvent) event()     {}

var (
	_ Event = TextDelta{}
	_ Event = ReasoningDelta{}
	_ Event = ToolCallDelta{}
	_ Event = Completion{}
	_ Event = ErrorEvent{}
)

// IsTerminal reports whether ev ends a stream.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Completion, ErrorEvent:
		return true
	default:
		return false
	}
}
