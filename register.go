package sevenzip

import (
	"io"
	"sync"

	"github.com/go-archive/sevenzip/internal/aes7z"
	"github.com/go-archive/sevenzip/internal/bcj2"
	"github.com/go-archive/sevenzip/internal/bra"
	"github.com/go-archive/sevenzip/internal/brotli"
	"github.com/go-archive/sevenzip/internal/bzip2"
	"github.com/go-archive/sevenzip/internal/deflate"
	"github.com/go-archive/sevenzip/internal/delta"
	"github.com/go-archive/sevenzip/internal/lz4"
	"github.com/go-archive/sevenzip/internal/lzma"
	"github.com/go-archive/sevenzip/internal/lzma2"
	"github.com/go-archive/sevenzip/internal/zstd"
)

// Decompressor is the signature every registered coder implementation must
// satisfy: given the coder's raw properties, its expected unpacked size and
// its bound input streams, return a single combined output stream.
type Decompressor func([]byte, uint64, []io.ReadCloser) (io.ReadCloser, error)

//nolint:gochecknoglobals
var decompressors sync.Map

func init() {
	// Copy
	RegisterDecompressor([]byte{0x00}, Decompressor(func(_ []byte, _ uint64, r []io.ReadCloser) (io.ReadCloser, error) {
		if len(r) != 1 {
			return nil, errAlgorithm
		}

		return r[0], nil
	}))

	// Delta
	RegisterDecompressor([]byte{0x03}, Decompressor(delta.NewReader))

	// BCJ x86, and the historical short id some encoders use
	RegisterDecompressor([]byte{0x03, 0x03, 0x01, 0x03}, Decompressor(bra.NewBCJReader))
	RegisterDecompressor([]byte{0x04}, Decompressor(bra.NewBCJReader))

	// BCJ PPC/ARM/ARM64/SPARC
	RegisterDecompressor([]byte{0x03, 0x03, 0x02, 0x05}, Decompressor(bra.NewPPCReader))
	RegisterDecompressor([]byte{0x05}, Decompressor(bra.NewPPCReader))
	RegisterDecompressor([]byte{0x03, 0x03, 0x05, 0x01}, Decompressor(bra.NewARMReader))
	RegisterDecompressor([]byte{0x07}, Decompressor(bra.NewARMReader))
	RegisterDecompressor([]byte{0x0a}, Decompressor(bra.NewARM64Reader))
	RegisterDecompressor([]byte{0x03, 0x03, 0x08, 0x05}, Decompressor(bra.NewSPARCReader))
	RegisterDecompressor([]byte{0x08}, Decompressor(bra.NewSPARCReader))

	// BCJ2
	RegisterDecompressor([]byte{0x03, 0x03, 0x01, 0x1b}, Decompressor(bcj2.NewReader))

	// LZMA & LZMA2
	RegisterDecompressor([]byte{0x03, 0x01, 0x01}, Decompressor(lzma.NewReader))
	RegisterDecompressor([]byte{0x21}, Decompressor(lzma2.NewReader))

	// Deflate
	RegisterDecompressor([]byte{0x04, 0x01, 0x08}, Decompressor(deflate.NewReader))

	// Bzip2
	RegisterDecompressor([]byte{0x04, 0x02, 0x02}, Decompressor(bzip2.NewReader))

	// Zstandard
	RegisterDecompressor([]byte{0x04, 0xf7, 0x11, 0x01}, Decompressor(zstd.NewReader))

	// Brotli
	RegisterDecompressor([]byte{0x04, 0xf7, 0x11, 0x02}, Decompressor(brotli.NewReader))

	// LZ4
	RegisterDecompressor([]byte{0x04, 0xf7, 0x11, 0x04}, Decompressor(lz4.NewReader))

	// AES-256-CBC & SHA-256
	RegisterDecompressor([]byte{0x06, 0xf1, 0x07, 0x01}, Decompressor(aes7z.NewReader))
}

// RegisterDecompressor records a Decompressor for a given coder method ID.
// Registering a method that already has one panics; this is only expected
// to happen during init().
func RegisterDecompressor(method []byte, dcomp Decompressor) {
	if _, dup := decompressors.LoadOrStore(string(method), dcomp); dup {
		panic("sevenzip: decompressor already registered")
	}
}

func decompressor(method []byte) Decompressor {
	di, ok := decompressors.Load(string(method))
	if !ok {
		return nil
	}

	d, ok := di.(Decompressor)
	if !ok {
		return nil
	}

	return d
}
