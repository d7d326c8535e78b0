// Package lz4 implements the LZ4 decompressor.
package lz4

import (
	"errors"
	"io"
	"sync"

	"github.com/go-archive/sevenzip/internal/util"
	lz4 "github.com/pierrec/lz4/v4"
)

//nolint:gochecknoglobals
var readerPool sync.Pool

var errNeedOneReader = errors.New("lz4: need exactly one reader")

// NewReader returns a new LZ4 io.ReadCloser.
func NewReader(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errNeedOneReader
	}

	r, ok := readerPool.Get().(*lz4.Reader)
	if ok {
		r.Reset(readers[0])
	} else {
		r = lz4.NewReader(readers[0])
	}

	return util.NewStream("lz4", r, readers[0]).WithRelease(func() {
		readerPool.Put(r)
	}), nil
}
