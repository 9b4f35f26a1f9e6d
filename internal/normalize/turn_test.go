package normalize

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/llmloop/internal/llm"
)

func drain(t *testing.T, s llm.Stream) []llm.Event {
	t.Helper()
	var events []llm.Event
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestPullStreamAssemblesTurn(t *testing.T) {
	turn := NewTurn("sdk")
	steps := []func() []llm.Event{
		func() []llm.Event { return turn.Reasoning("hmm") },
		func() []llm.Event { return turn.Text("Hello") },
		func() []llm.Event {
			return turn.ToolCall(llm.PartialToolCall{Index: 0, ID: "t1", Name: "glob"})
		},
		func() []llm.Event {
			return turn.ToolCall(llm.PartialToolCall{Index: 0, ArgumentsFragment: `{"pattern":"*"}`})
		},
		func() []llm.Event {
			turn.SetFinishReason("tool_use")
			turn.SetUsage(llm.Usage{InputTokens: 3, OutputTokens: 2})
			return turn.Complete()
		},
		func() []llm.Event { t.Fatal("step called after terminal event"); return nil },
	}
	i := 0
	closed := false
	s := NewPullStream(context.Background(), func() ([]llm.Event, bool) {
		fn := steps[i]
		i++
		return fn(), true
	}, func() error { closed = true; return nil })

	events := drain(t, s)
	require.Len(t, events, 5)
	c := completionOf(t, events)
	assert.Equal(t, "Hello", c.Response.Text)
	assert.Equal(t, "hmm", c.Response.Reasoning)
	assert.Equal(t, "tool_use", c.Response.FinishReason)
	require.Len(t, c.Response.ToolCalls, 1)
	assert.JSONEq(t, `{"pattern":"*"}`, string(c.Response.ToolCalls[0].Arguments))
	assert.Equal(t, &llm.Usage{InputTokens: 3, OutputTokens: 2}, c.Usage)

	require.NoError(t, s.Close())
	assert.True(t, closed)
}

func TestPullStreamFinishWithoutTerminal(t *testing.T) {
	turn := NewTurn("sdk")
	sent := false
	s := NewPullStream(context.Background(), func() ([]llm.Event, bool) {
		if !sent {
			sent = true
			return turn.Text("partial"), true
		}
		return turn.Finish(), false
	}, nil)

	c := completionOf(t, drain(t, s))
	assert.Equal(t, []string{MissingCompletionWarning}, c.Warnings)
	assert.True(t, turn.Done())
}

func TestPullStreamFailIsTerminal(t *testing.T) {
	turn := NewTurn("sdk")
	s := NewPullStream(context.Background(), func() ([]llm.Event, bool) {
		return turn.Fail(errors.New("boom")), false
	}, nil)

	events := drain(t, s)
	require.Len(t, events, 1)
	assert.IsType(t, llm.ErrorEvent{}, events[0])
	assert.Nil(t, turn.Complete())
}

func TestPullStreamCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	turn := NewTurn("sdk")
	s := NewPullStream(ctx, func() ([]llm.Event, bool) {
		cancel()
		return turn.Text("late"), true
	}, nil)

	_, err := s.Recv()
	assert.ErrorIs(t, err, context.Canceled)
}
