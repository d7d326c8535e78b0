// Package deflate implements the Deflate decompressor.
package deflate

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-archive/sevenzip/internal/util"
	"github.com/klauspost/compress/flate"
)

//nolint:gochecknoglobals
var readerPool sync.Pool

var errNeedOneReader = errors.New("deflate: need exactly one reader")

// NewReader returns a new DEFLATE io.ReadCloser.
func NewReader(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errNeedOneReader
	}

	fr, ok := readerPool.Get().(io.ReadCloser)
	if ok {
		if frf, ok := fr.(flate.Resetter); ok {
			if err := frf.Reset(util.ByteReadCloser(readers[0]), nil); err != nil {
				return nil, fmt.Errorf("deflate: error resetting: %w", err)
			}
		}
	} else {
		fr = flate.NewReader(util.ByteReadCloser(readers[0]))
	}

	return util.NewStream("deflate", fr, fr, readers[0]).WithRelease(func() {
		readerPool.Put(fr)
	}), nil
}
