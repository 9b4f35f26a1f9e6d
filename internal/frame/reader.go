package frame

import (
	"context"
	"errors"
	"io"
)

const readChunkSize = 32 * 1024

// Reader pulls frames from an io.Reader. Bytes are only read when the
// previously decoded frames have been consumed.
type Reader struct {
	r       io.Reader
	dec     *Decoder
	pending []Frame
	buf     []byte
	eof     bool
}

// NewReader wraps r with a decoder for mode.
func NewReader(r io.Reader, mode Mode, opts ...Option) *Reader {
	return &Reader{
		r:   r,
		dec: NewDecoder(mode, opts...),
		buf: make([]byte, readChunkSize),
	}
}

// Next returns the next frame, or io.EOF once the input and the flushed
// tail are exhausted. ctx is checked before every read; cancelling it does
// not interrupt a read already in progress, so callers should tie the
// underlying reader to the same context (as net/http request bodies are).
func (r *Reader) Next(ctx context.Context) (Frame, error) {
	for len(r.pending) == 0 {
		if r.eof {
			return Frame{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		n, err := r.r.Read(r.buf)
		if n > 0 {
			frames, decErr := r.dec.Decode(r.buf[:n])
			r.pending = append(r.pending, frames...)
			if decErr != nil {
				return Frame{}, decErr
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Frame{}, ctxErr
				}
				return Frame{}, err
			}
			r.eof = true
			r.pending = append(r.pending, r.dec.Flush()...)
		}
	}
	f := r.pending[0]
	r.pending = r.pending[1:]
	return f, nil
}
