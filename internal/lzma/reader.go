// Package lzma implements the LZMA decompressor.
package lzma

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-archive/sevenzip/internal/util"
	"github.com/ulikunitz/xz/lzma"
)

var errNeedOneReader = errors.New("lzma: need exactly one reader")

// NewReader returns a new LZMA io.ReadCloser.
func NewReader(p []byte, s uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errNeedOneReader
	}

	h := bytes.NewBuffer(p)
	_ = binary.Write(h, binary.LittleEndian, s)

	lr, err := lzma.NewReader(multiReader(h, readers[0]))
	if err != nil {
		return nil, fmt.Errorf("lzma: error creating reader: %w", err)
	}

	return util.NewStream("lzma", lr, readers[0]), nil
}

func multiReader(b *bytes.Buffer, rc io.ReadCloser) io.Reader {
	mr := io.MultiReader(b, rc)

	if br, ok := rc.(io.ByteReader); ok {
		return &multiByteReader{
			b:  b,
			br: br,
			mr: mr,
		}
	}

	return mr
}

type multiByteReader struct {
	b  *bytes.Buffer
	br io.ByteReader
	mr io.Reader
}

func (m *multiByteReader) ReadByte() (b byte, err error) {
	if m.b.Len() > 0 {
		b, err = m.b.ReadByte()
	} else {
		b, err = m.br.ReadByte()
	}

	if err != nil {
		err = fmt.Errorf("lzma: error multi byte reading: %w", err)
	}

	return b, err
}

func (m *multiByteReader) Read(p []byte) (int, error) {
	n, err := m.mr.Read(p)
	if err != nil {
		err = fmt.Errorf("lzma: error multi reading: %w", err)
	}

	return n, err
}
