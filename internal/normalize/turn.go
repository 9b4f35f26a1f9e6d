package normalize

import (
	"context"
	"io"

	"github.com/samsaffron/llmloop/internal/llm"
)

// Turn accumulates one response for adapters whose SDK has already decoded
// the wire format. It applies the same reasoning, tool-call and completion
// rules as the frame normalizers.
type Turn struct {
	*turnState
}

// NewTurn returns a Turn labelled with provider.
func NewTurn(provider string, opts ...Option) *Turn {
	return &Turn{turnState: newTurnState(provider, opts)}
}

func (t *Turn) Text(s string) []llm.Event {
	return t.content(s)
}

func (t *Turn) Reasoning(s string) []llm.Event {
	return t.reasoningDelta(s)
}

func (t *Turn) ToolCall(p llm.PartialToolCall) []llm.Event {
	return []llm.Event{t.toolDelta(p)}
}

// SetUsage replaces the usage reported so far.
func (t *Turn) SetUsage(u llm.Usage) {
	t.usage = &u
}

func (t *Turn) SetFinishReason(reason string) {
	if reason != "" {
		t.finish = reason
	}
}

// Complete emits the terminal Completion.
func (t *Turn) Complete() []llm.Event {
	if t.done {
		return nil
	}
	return t.complete()
}

// Fail emits a terminal ErrorEvent.
func (t *Turn) Fail(err error) []llm.Event {
	if t.done {
		return nil
	}
	return t.fail(err)
}

// Finish synthesizes a Completion, with a warning, if the source ended
// before either terminal event.
func (t *Turn) Finish() []llm.Event {
	return t.finishStream()
}

// Done reports whether a terminal event has been produced.
func (t *Turn) Done() bool {
	return t.done
}

// StepFunc yields the events for the next unit of SDK input. more is false
// once the source is exhausted.
type StepFunc func() (events []llm.Event, more bool)

// PullStream adapts a StepFunc to llm.Stream. step is only called when the
// previously produced events have been consumed.
type PullStream struct {
	ctx     context.Context
	step    StepFunc
	closeFn func() error

	queue []llm.Event
	ended bool
}

func NewPullStream(ctx context.Context, step StepFunc, closeFn func() error) *PullStream {
	return &PullStream{ctx: ctx, step: step, closeFn: closeFn}
}

func (s *PullStream) Recv() (llm.Event, error) {
	if err := s.ctx.Err(); err != nil {
		s.ended = true
		s.queue = nil
		return nil, err
	}
	for len(s.queue) == 0 {
		if s.ended {
			return nil, io.EOF
		}
		events, more := s.step()
		if err := s.ctx.Err(); err != nil {
			s.ended = true
			return nil, err
		}
		for _, ev := range events {
			s.queue = append(s.queue, ev)
			if llm.IsTerminal(ev) {
				s.ended = true
				break
			}
		}
		if !more {
			s.ended = true
		}
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

func (s *PullStream) Close() error {
	s.ended = true
	s.queue = nil
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}
