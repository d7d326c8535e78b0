package bra

import (
	"encoding/binary"
	"io"
)

const ppcAlignment = 4

// ppc converts PowerPC branch-with-link call targets between absolute and
// instruction-relative form, 4 bytes at a time.
type ppc struct {
	ip uint32
}

func (f *ppc) Size() int { return ppcAlignment }

func (f *ppc) Convert(b []byte, encoding bool) int {
	if len(b) < f.Size() {
		return 0
	}

	var i int

	for i = 0; i < len(b) & ^(ppcAlignment-1); i += ppcAlignment {
		v := binary.BigEndian.Uint32(b[i:])

		if b[i+0]&0xfc == 0x48 && b[i+3]&3 == 1 {
			if encoding {
				v += f.ip
			} else {
				v -= f.ip
			}

			v &= 0x03ffffff
			v |= 0x48000000
		}

		f.ip += uint32(ppcAlignment)

		binary.BigEndian.PutUint32(b[i:], v)
	}

	return i
}

// NewPPCReader returns a new PPC io.ReadCloser.
func NewPPCReader(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	return newReader(readers, new(ppc))
}
