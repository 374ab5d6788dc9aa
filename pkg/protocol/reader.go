package protocol

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
)

// DefaultMaxFrameBytes bounds a single frame, newline excluded.
const DefaultMaxFrameBytes = 64 * 1024

// ErrFrameTooLarge is returned when a frame exceeds the reader's limit.
var ErrFrameTooLarge = errors.New("frame too large")

// ChunkSource yields raw bytes as they arrive on a connection. A chunk may
// hold part of a frame or several frames.
type ChunkSource interface {
	Read(ctx context.Context) ([]byte, error)
}

// Reader splits a connection's byte stream into trimmed, newline-delimited
// frames. Incomplete trailing data is kept across reads and every frame
// already buffered is returned before the source is read again. A Reader
// is owned by a single goroutine.
type Reader struct {
	src      ChunkSource
	buf      []byte
	maxFrame int
	err      error
}

// NewReader creates a Reader over src. maxFrame <= 0 disables the limit.
func NewReader(src ChunkSource, maxFrame int) *Reader {
	return &Reader{src: src, maxFrame: maxFrame}
}

// NewStreamReader creates a Reader over a plain io.Reader.
func NewStreamReader(r io.Reader, maxFrame int) *Reader {
	return NewReader(&streamSource{r: r, buf: make([]byte, 4096)}, maxFrame)
}

// Next returns the next non-empty frame. It returns io.EOF once the peer
// has closed the stream; bytes after the last newline are dropped then.
func (r *Reader) Next(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
			if r.maxFrame > 0 && i > r.maxFrame {
				return "", ErrFrameTooLarge
			}
			line := string(r.buf[:i])
			r.buf = r.buf[i+1:]
			if frame := strings.TrimSpace(line); frame != "" {
				return frame, nil
			}
			continue
		}

		if r.maxFrame > 0 && len(r.buf) > r.maxFrame {
			return "", ErrFrameTooLarge
		}
		if r.err != nil {
			return "", r.err
		}

		chunk, err := r.src.Read(ctx)
		r.buf = append(r.buf, chunk...)
		if err != nil {
			r.err = err
		}
	}
}

// Buffered returns the number of bytes held for an incomplete frame.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

type streamSource struct {
	r   io.Reader
	buf []byte
}

func (s *streamSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := s.r.Read(s.buf)
	return s.buf[:n], err
}
