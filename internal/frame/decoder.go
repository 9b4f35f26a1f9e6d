// Package frame splits streamed response bodies into protocol frames: one per
// server-sent "data:" line, or one per NDJSON line.
package frame

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"
)

// Mode selects the wire framing.
type Mode int

const (
	SSE Mode = iota
	NDJSON
)

func (m Mode) String() string {
	switch m {
	case SSE:
		return "sse"
	case NDJSON:
		return "ndjson"
	default:
		return "unknown"
	}
}

// DoneSentinel is the SSE payload that marks end of stream.
const DoneSentinel = "[DONE]"

// DefaultMaxLineBytes bounds a single buffered line.
const DefaultMaxLineBytes = 1024 * 1024

// ErrLineTooLong is returned when a line exceeds the decoder's limit.
var ErrLineTooLong = errors.New("frame: line exceeds maximum length")

// Frame is one decoded protocol unit.
type Frame struct {
	// Event is the SSE event name preceding this data line, if any.
	Event string
	// Data is the payload with the "data:" prefix and line terminator removed.
	Data string
	// Done is set for the SSE [DONE] sentinel. Data is empty.
	Done bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxLineBytes overrides DefaultMaxLineBytes.
func WithMaxLineBytes(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// Decoder turns arbitrary byte chunks into frames. It is stateful per
// stream: a partial line, including a partial UTF-8 sequence, is held until
// the rest arrives. A Decoder is not safe for concurrent use.
type Decoder struct {
	mode    Mode
	maxLine int
	buf     []byte
	event   string
}

// NewDecoder creates a decoder for the given framing.
func NewDecoder(mode Mode, opts ...Option) *Decoder {
	d := &Decoder{mode: mode, maxLine: DefaultMaxLineBytes}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode consumes chunk and returns every frame completed by it.
func (d *Decoder) Decode(chunk []byte) ([]Frame, error) {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if len(line) > d.maxLine {
			d.buf = nil
			return frames, ErrLineTooLong
		}
		if f, ok := d.line(line); ok {
			frames = append(frames, f)
		}
	}

	if len(d.buf) > d.maxLine {
		d.buf = nil
		return frames, ErrLineTooLong
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames, nil
}

// Flush returns the buffered tail as a final frame even though it has no
// terminator. The decoder is empty afterwards.
func (d *Decoder) Flush() []Frame {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if f, ok := d.line(line); ok {
		return []Frame{f}
	}
	return nil
}

func (d *Decoder) line(raw []byte) (Frame, bool) {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	text := string(raw)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}

	if d.mode == NDJSON {
		if strings.TrimSpace(text) == "" {
			return Frame{}, false
		}
		return Frame{Data: text}, true
	}

	if text == "" || strings.HasPrefix(text, ":") {
		return Frame{}, false
	}
	field, value, _ := strings.Cut(text, ":")
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "event":
		d.event = value
		return Frame{}, false
	case "data":
		event := d.event
		d.event = ""
		if strings.TrimSpace(value) == DoneSentinel {
			return Frame{Event: event, Done: true}, true
		}
		return Frame{Event: event, Data: value}, true
	default:
		return Frame{}, false
	}
}
