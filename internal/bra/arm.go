package bra

import (
	"encoding/binary"
	"io"
)

const armAlignment = 4

// arm converts 32-bit ARM BL call targets between absolute and
// instruction-relative form, 4 bytes at a time.
type arm struct {
	ip uint32
}

func (f *arm) Size() int { return armAlignment }

func (f *arm) Convert(b []byte, encoding bool) int {
	if len(b) < f.Size() {
		return 0
	}

	if f.ip == 0 {
		f.ip += armAlignment
	}

	var i int

	for i = 0; i < len(b) & ^(armAlignment-1); i += armAlignment {
		v := binary.LittleEndian.Uint32(b[i:])

		f.ip += uint32(armAlignment)

		if b[i+3] == 0xeb {
			v <<= 2

			if encoding {
				v += f.ip
			} else {
				v -= f.ip
			}

			v >>= 2
			v &= 0x00ffffff
			v |= 0xeb000000
		}

		binary.LittleEndian.PutUint32(b[i:], v)
	}

	return i
}

// NewARMReader returns a new ARM io.ReadCloser.
func NewARMReader(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	return newReader(readers, new(arm))
}
