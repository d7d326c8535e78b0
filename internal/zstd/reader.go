// Package zstd implements the Zstandard decompressor.
package zstd

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/go-archive/sevenzip/internal/util"
	"github.com/klauspost/compress/zstd"
)

//nolint:gochecknoglobals
var readerPool sync.Pool

var errNeedOneReader = errors.New("zstd: need exactly one reader")

// NewReader returns a new Zstandard io.ReadCloser.
func NewReader(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errNeedOneReader
	}

	var err error

	r, ok := readerPool.Get().(*zstd.Decoder)
	if ok {
		if err = r.Reset(readers[0]); err != nil {
			return nil, fmt.Errorf("zstd: error resetting: %w", err)
		}
	} else {
		if r, err = zstd.NewReader(readers[0]); err != nil {
			return nil, fmt.Errorf("zstd: error creating reader: %w", err)
		}

		runtime.SetFinalizer(r, (*zstd.Decoder).Close)
	}

	return util.NewStream("zstd", r, readers[0]).WithRelease(func() {
		readerPool.Put(r)
	}), nil
}
