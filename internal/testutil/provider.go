// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/samsaffron/llmloop/internal/llm"
)

// ScriptedProvider replays scripted events per call and records requests.
type ScriptedProvider struct {
	// Script returns the events of the n-th request, counting from zero.
	Script func(n int, req llm.Request) []llm.Event

	mu    sync.Mutex
	calls []llm.Request
}

// Replay returns a provider that answers request n with turns[n].
func Replay(turns ...[]llm.Event) *ScriptedProvider {
	return &ScriptedProvider{Script: func(n int, _ llm.Request) []llm.Event {
		if n >= len(turns) {
			return Answer("(script exhausted)")
		}
		return turns[n]
	}}
}

func (p *ScriptedProvider) Name() string { return "scripted" }

func (p *ScriptedProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	n := len(p.calls)
	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	return &SliceStream{Ctx: ctx, Events: p.Script(n, req)}, nil
}

// Requests returns a copy of every request received so far.
func (p *ScriptedProvider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.calls...)
}

// SliceStream yields Events in order, then io.EOF.
type SliceStream struct {
	Ctx    context.Context
	Events []llm.Event
	idx    int
}

func (s *SliceStream) Recv() (llm.Event, error) {
	if s.Ctx != nil {
		if err := s.Ctx.Err(); err != nil {
			return nil, err
		}
	}
	if s.idx >= len(s.Events) {
		return nil, io.EOF
	}
	ev := s.Events[s.idx]
	s.idx++
	return ev, nil
}

func (s *SliceStream) Close() error { return nil }

// Answer is a turn that ends with text and no tool calls.
func Answer(text string) []llm.Event {
	return []llm.Event{
		llm.TextDelta{Text: text},
		llm.Completion{Response: llm.Response{Text: text, FinishReason: "stop"}, Usage: &llm.Usage{InputTokens: 10, OutputTokens: 2}},
	}
}

// ToolTurn is a turn that requests calls.
func ToolTurn(calls ...llm.ToolCall) []llm.Event {
	var events []llm.Event
	for i, c := range calls {
		events = append(events, llm.ToolCallDelta{
			Partial:  llm.PartialToolCall{Index: i, ID: c.ID, Name: c.Name, ArgumentsFragment: string(c.Arguments)},
			Snapshot: c,
		})
	}
	return append(events, llm.Completion{Response: llm.Response{ToolCalls: calls, FinishReason: "tool_calls"}, Usage: &llm.Usage{InputTokens: 5, OutputTokens: 1}})
}
