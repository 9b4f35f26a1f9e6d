// Package normalize converts decoded wire frames into provider-agnostic
// llm.Event values.
package normalize

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/samsaffron/llmloop/internal/frame"
	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/toolcall"
)

// ErrNotObject is returned for frames whose payload is valid JSON but not
// an object. Callers skip such frames.
var ErrNotObject = errors.New("normalize: frame payload is not a JSON object")

// MissingCompletionWarning is attached to a Completion synthesized at end of
// input when the provider never sent its finish marker.
const MissingCompletionWarning = "stream ended without completion marker"

// Normalizer turns one stream's frames into events. Implementations hold
// per-stream state and are not safe for concurrent use.
type Normalizer interface {
	Normalize(f frame.Frame) ([]llm.Event, error)
	// Finish is called once the input is exhausted. It returns a terminal
	// event unless one was already produced.
	Finish() []llm.Event
}

// Option configures a normalizer.
type Option func(*turnState)

// WithThinkTags extracts reasoning embedded in visible text between open
// and close, e.g. "<think>" and "</think>".
func WithThinkTags(open, close string) Option {
	return func(s *turnState) {
		if open != "" && close != "" {
			s.think = NewThinkSplitter(open, close)
		}
	}
}

// WithLogger sets the logger used for skipped frames.
func WithLogger(l *slog.Logger) Option {
	return func(s *turnState) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProviderName labels errors and log lines.
func WithProviderName(name string) Option {
	return func(s *turnState) {
		if name != "" {
			s.provider = name
		}
	}
}

// turnState is the per-stream accumulation shared by every dialect.
type turnState struct {
	provider string
	logger   *slog.Logger
	think    *ThinkSplitter

	text      strings.Builder
	reasoning strings.Builder
	acc       *toolcall.Accumulator
	usage     *llm.Usage
	finish    string
	done      bool
}

func newTurnState(defaultProvider string, opts []Option) *turnState {
	s := &turnState{
		provider: defaultProvider,
		logger:   slog.Default(),
		acc:      toolcall.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// decode unmarshals data into v. Malformed payloads are logged and reported
// as ok=false without an error; non-object payloads return ErrNotObject.
func (s *turnState) decode(data string, v any) (bool, error) {
	trimmed := strings.TrimSpace(data)
	if !json.Valid([]byte(trimmed)) {
		s.logger.Warn("skipping malformed stream frame", "provider", s.provider, "payload", truncate(trimmed, 200))
		return false, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return false, ErrNotObject
	}
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		s.logger.Warn("skipping unexpected stream frame", "provider", s.provider, "error", err, "payload", truncate(trimmed, 200))
		return false, nil
	}
	return true, nil
}

func (s *turnState) content(content string) []llm.Event {
	if content == "" {
		return nil
	}
	if s.think == nil {
		s.text.WriteString(content)
		return []llm.Event{llm.TextDelta{Text: content}}
	}
	var events []llm.Event
	for _, seg := range s.think.Segments(content) {
		if seg.Reasoning {
			events = append(events, s.reasoningDelta(seg.Text)...)
		} else {
			s.text.WriteString(seg.Text)
			events = append(events, llm.TextDelta{Text: seg.Text})
		}
	}
	return events
}

func (s *turnState) split(text, reasoning string) []llm.Event {
	var events []llm.Event
	if reasoning != "" {
		s.reasoning.WriteString(reasoning)
		events = append(events, llm.ReasoningDelta{Text: reasoning})
	}
	if text != "" {
		s.text.WriteString(text)
		events = append(events, llm.TextDelta{Text: text})
	}
	return events
}

func (s *turnState) reasoningDelta(text string) []llm.Event {
	if text == "" {
		return nil
	}
	s.reasoning.WriteString(text)
	return []llm.Event{llm.ReasoningDelta{Text: text}}
}

func (s *turnState) toolDelta(p llm.PartialToolCall) llm.Event {
	snapshot := s.acc.Add(p)
	return llm.ToolCallDelta{Partial: p, Snapshot: snapshot}
}

func (s *turnState) addUsage(u llm.Usage) {
	if s.usage == nil {
		s.usage = &llm.Usage{}
	}
	s.usage.Add(&u)
}

// complete emits the terminal Completion, preceded by anything the think
// splitter was still holding, then resets per-stream state.
func (s *turnState) complete(warnings ...string) []llm.Event {
	var events []llm.Event
	if s.think != nil {
		events = append(events, s.split(s.think.Flush())...)
	}
	events = append(events, llm.Completion{
		Response: llm.Response{
			Text:         s.text.String(),
			Reasoning:    s.reasoning.String(),
			ToolCalls:    s.acc.Calls(),
			FinishReason: s.finish,
		},
		Usage:    s.usage,
		Warnings: warnings,
	})
	s.reset()
	s.done = true
	return events
}

func (s *turnState) fail(err error) []llm.Event {
	s.reset()
	s.done = true
	return []llm.Event{llm.ErrorEvent{Err: err}}
}

func (s *turnState) finishStream() []llm.Event {
	if s.done {
		return nil
	}
	return s.complete(MissingCompletionWarning)
}

func (s *turnState) reset() {
	s.text.Reset()
	s.reasoning.Reset()
	s.acc.Reset()
	s.usage = nil
	s.finish = ""
	if s.think != nil {
		s.think.Reset()
	}
}

// argumentsFragment accepts tool arguments sent either as a JSON string
// (the usual streaming form) or as an inline JSON value.
func argumentsFragment(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
