// Package bzip2 implements the Bzip2 decompressor.
package bzip2

import (
	"compress/bzip2"
	"errors"
	"io"

	"github.com/go-archive/sevenzip/internal/util"
)

var errNeedOneReader = errors.New("bzip2: need exactly one reader")

// NewReader returns a new bzip2 io.ReadCloser.
func NewReader(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errNeedOneReader
	}

	return util.NewStream("bzip2", bzip2.NewReader(readers[0]), readers[0]), nil
}
