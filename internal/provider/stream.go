package provider

import (
	"errors"
	"io"

	"github.com/samsaffron/llmloop/internal/llm"
)

// failedStream delivers a single ErrorEvent, so transport failures reach
// the caller the same way as errors reported mid-stream.
type failedStream struct {
	err  error
	sent bool
}

func (s *failedStream) Recv() (llm.Event, error) {
	if s.sent {
		return nil, io.EOF
	}
	s.sent = true
	return llm.ErrorEvent{Err: s.err}, nil
}

func (s *failedStream) Close() error { return nil }

// errorStream turns a request failure into a stream. Cancellation is
// returned as a plain error.
func errorStream(err error) (llm.Stream, error) {
	var perr *llm.ProviderError
	if !errors.As(err, &perr) {
		return nil, err
	}
	return &failedStream{err: err}, nil
}
