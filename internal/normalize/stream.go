package normalize

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/samsaffron/llmloop/internal/frame"
	"github.com/samsaffron/llmloop/internal/llm"
)

// Stream adapts a framed response body into an llm.Stream. Bytes are pulled
// from the body only when every event decoded so far has been consumed.
type Stream struct {
	ctx      context.Context
	body     io.ReadCloser
	frames   *frame.Reader
	norm     Normalizer
	provider string
	logger   *slog.Logger

	queue []llm.Event
	ended bool
}

// NewStream reads body with the given framing and normalizer. Cancelling
// ctx ends the stream with ctx.Err() and no further events.
func NewStream(ctx context.Context, body io.ReadCloser, mode frame.Mode, norm Normalizer, provider string) *Stream {
	return &Stream{
		ctx:      ctx,
		body:     body,
		frames:   frame.NewReader(body, mode),
		norm:     norm,
		provider: provider,
		logger:   slog.Default(),
	}
}

func (s *Stream) Recv() (llm.Event, error) {
	if err := s.ctx.Err(); err != nil {
		s.ended = true
		s.queue = nil
		return nil, err
	}
	for len(s.queue) == 0 {
		if s.ended {
			return nil, io.EOF
		}

		f, err := s.frames.Next(s.ctx)
		switch {
		case errors.Is(err, io.EOF):
			s.push(s.norm.Finish())
			s.ended = true
			continue
		case err != nil:
			s.ended = true
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return llm.ErrorEvent{Err: &llm.ProviderError{Provider: s.provider, Message: "stream read failed", Err: err}}, nil
		}

		events, err := s.norm.Normalize(f)
		if err != nil {
			s.logger.Warn("skipping stream frame", "provider", s.provider, "error", err)
			continue
		}
		s.push(events)
	}

	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

// push queues events, dropping anything after a terminal event.
func (s *Stream) push(events []llm.Event) {
	for _, ev := range events {
		s.queue = append(s.queue, ev)
		if llm.IsTerminal(ev) {
			s.ended = true
			return
		}
	}
}

func (s *Stream) Close() error {
	s.ended = true
	s.queue = nil
	return s.body.Close()
}
