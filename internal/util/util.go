// Package util holds small helpers shared across the sevenzip package and
// its coder implementations.
package util

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ReadCloser is an io.Reader that also implements io.ByteReader and
// io.Closer, the shape several coders need from their upstream.
type ReadCloser interface {
	io.Reader
	io.ByteReader
	io.Closer
}

// SizeReadSeekCloser is the interface folder readers expose so they can be
// pooled and resumed mid-stream.
type SizeReadSeekCloser interface {
	io.ReadSeekCloser
	Size() int64
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

// NopCloser wraps r with a no-op Close method, preserving ReadByte when the
// underlying reader already implements it.
func NopCloser(r io.Reader) io.ReadCloser {
	if br, ok := r.(io.ByteReader); ok {
		return byteReadCloser{ReadCloser: nopCloser{r}, br: br}
	}

	return nopCloser{r}
}

type byteReadCloser struct {
	io.ReadCloser
	br io.ByteReader
}

func (b byteReadCloser) ReadByte() (byte, error) {
	return b.br.ReadByte()
}

// ByteReadCloser adapts rc to also implement io.ByteReader, wrapping it in a
// bufio.Reader if it doesn't already support ReadByte.
func ByteReadCloser(rc io.ReadCloser) ReadCloser {
	if br, ok := rc.(io.ByteReader); ok {
		return byteReadCloser{ReadCloser: rc, br: br}
	}

	br := bufio.NewReader(rc)

	return byteReadCloser{ReadCloser: rc, br: br}
}

// CRC32Equal reports whether the CRC-32 checksum sum (as returned by
// hash.Hash.Sum, most significant byte first) matches expected, the value
// decoded from the archive's little-endian field. Callers are responsible
// for skipping the comparison when a digest isn't recorded.
func CRC32Equal(sum []byte, expected uint32) bool {
	return bytes.Equal(sum, []byte{
		byte(expected >> 24), byte(expected >> 16), byte(expected >> 8), byte(expected),
	})
}

// ErrStreamClosed is returned by a Stream's Read or Close once it has
// already been closed.
var ErrStreamClosed = errors.New("util: stream already closed")

// Stream turns a decoder reading from one or more upstream closers into a
// single io.ReadCloser, under a name used to tag its error text. It's the
// shape almost every single-input coder needs: read from r until Close runs
// every closer in order and, if that succeeds, hands the decoder back to a
// pool via an optional release callback.
type Stream struct {
	name    string
	r       io.Reader
	closers []io.Closer
	release func()
}

// NewStream returns a *Stream named name (e.g. "zstd", used to prefix error
// text) reading from r, whose Close runs each of closers in order.
func NewStream(name string, r io.Reader, closers ...io.Closer) *Stream {
	return &Stream{name: name, r: r, closers: closers}
}

// WithRelease registers f to run once Close has closed every upstream
// closer successfully, typically to return a reusable decoder to a pool.
func (s *Stream) WithRelease(f func()) *Stream {
	s.release = f

	return s
}

func (s *Stream) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, fmt.Errorf("%s: %w", s.name, ErrStreamClosed)
	}

	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%s: error reading: %w", s.name, err)
	}

	return n, err
}

// Close closes every registered closer, runs the release callback on full
// success, and fails with ErrStreamClosed on a second call.
func (s *Stream) Close() error {
	if s.r == nil {
		return fmt.Errorf("%s: %w", s.name, ErrStreamClosed)
	}

	var firstErr error

	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return fmt.Errorf("%s: error closing: %w", s.name, firstErr)
	}

	if s.release != nil {
		s.release()
	}

	s.r, s.closers = nil, nil

	return nil
}
