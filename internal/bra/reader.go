package bra

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	errAlreadyClosed = errors.New("bra: already closed")
	errNeedOneReader = errors.New("bra: need exactly one reader")
)

// converterStream buffers just enough upstream bytes for conv to look ahead
// across an instruction boundary before handing converted bytes back to the
// caller.
type converterStream struct {
	upstream io.ReadCloser
	pending  bytes.Buffer
	ready    int
	conv     converter
}

func (c *converterStream) Close() error {
	if c.upstream == nil {
		return errAlreadyClosed
	}

	if err := c.upstream.Close(); err != nil {
		return fmt.Errorf("bra: error closing: %w", err)
	}

	c.upstream = nil

	return nil
}

func (c *converterStream) Read(p []byte) (int, error) {
	if c.upstream == nil {
		return 0, errAlreadyClosed
	}

	want := len(p)
	if size := c.conv.Size(); size > want {
		want = size
	}

	if _, err := io.CopyN(&c.pending, c.upstream, int64(want-c.pending.Len())); err != nil {
		if !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("bra: error buffering: %w", err)
		}

		if c.pending.Len() < c.conv.Size() {
			c.ready = c.pending.Len()
		}
	}

	c.ready += c.conv.Convert(c.pending.Bytes()[c.ready:], false)

	ready := c.ready
	if ready > len(p) {
		ready = len(p)
	}

	n, err := c.pending.Read(p[:ready])
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("bra: error reading: %w", err)
	}

	c.ready -= n

	return n, err
}

func newReader(readers []io.ReadCloser, conv converter) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errNeedOneReader
	}

	return &converterStream{
		upstream: readers[0],
		conv:     conv,
	}, nil
}
