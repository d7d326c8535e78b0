// Package delta implements the Delta filter.
package delta

import (
	"errors"
	"io"

	"github.com/go-archive/sevenzip/internal/util"
)

const stateSize = 256

var (
	ErrNeedOneReader          = errors.New("delta: need exactly one reader")
	ErrInsufficientProperties = errors.New("delta: not enough properties")
)

// filter undoes the byte-wise delta encoding: each output byte adds back the
// value held distance positions earlier in the output stream.
type filter struct {
	upstream io.Reader
	state    [stateSize]byte
	distance int
}

func (f *filter) Read(p []byte) (int, error) {
	n, err := f.upstream.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}

	var (
		buffer [stateSize]byte
		j      int
	)

	copy(buffer[:], f.state[:f.distance])

	for i := 0; i < n; {
		for j = 0; j < f.distance && i < n; i++ {
			p[i] = buffer[j] + p[i]
			buffer[j] = p[i]
			j++
		}
	}

	if j == f.distance {
		j = 0
	}

	copy(f.state[:], buffer[j:f.distance])
	copy(f.state[f.distance-j:], buffer[:j])

	return n, err
}

// NewReader returns a new Delta io.ReadCloser.
func NewReader(p []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, ErrNeedOneReader
	}

	if len(p) != 1 {
		return nil, ErrInsufficientProperties
	}

	f := &filter{upstream: readers[0], distance: int(p[0] + 1)}

	return util.NewStream("delta", f, readers[0]), nil
}
