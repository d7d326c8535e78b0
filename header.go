package sevenzip

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf16"

	"github.com/bodgit/windows"
	"github.com/go-archive/sevenzip/internal/util"
)

// Property IDs used throughout the metadata header, as per the 7-zip
// reference implementation.
const (
	idEnd               byte = 0x00
	idHeader            byte = 0x01
	idArchiveProperties byte = 0x02
	idAdditionalStreams byte = 0x03
	idMainStreamsInfo   byte = 0x04
	idFilesInfo         byte = 0x05
	idPackInfo          byte = 0x06
	idUnpackInfo        byte = 0x07
	idSubStreamsInfo    byte = 0x08
	idSize              byte = 0x09
	idCRC               byte = 0x0a
	idFolder            byte = 0x0b
	idCodersUnpackSize  byte = 0x0c
	idNumUnpackStream   byte = 0x0d
	idEmptyStream       byte = 0x0e
	idEmptyFile         byte = 0x0f
	idAnti              byte = 0x10
	idName              byte = 0x11
	idCTime             byte = 0x12
	idATime             byte = 0x13
	idMTime             byte = 0x14
	idWinAttributes     byte = 0x15
	idComment           byte = 0x16
	idEncodedHeader     byte = 0x17
	idStartPos          byte = 0x18
	idDummy             byte = 0x19
)

var (
	errUnexpectedID       = errors.New("sevenzip: unexpected header id")
	errUnsupportedFeature = errors.New("sevenzip: unsupported feature")
	errRecursionLimit     = errors.New("sevenzip: encoded header recursion limit reached")
)

// maxEncodedHeaderDepth bounds how many times a header is allowed to be
// wrapped in its own EncodedHeader: the metadata header may itself be
// stored compressed, and in principle that compressed blob could again be
// described by a header that is itself encoded. Real archives never nest
// more than once; the limit exists so a crafted archive can't force
// unbounded recursion.
const maxEncodedHeaderDepth = 2

// readNumber decodes the 7z variable-length integer encoding: the leading
// ones in the first byte indicate how many extra little-endian bytes
// follow, OR'd with the masked low bits of the first byte.
func readNumber(r io.ByteReader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("sevenzip: error reading number: %w", err)
	}

	var (
		value uint64
		mask  byte = 0x80
	)

	for i := 0; i < 8; i++ {
		if first&mask == 0 {
			value |= (uint64(first) & (uint64(mask) - 1)) << (8 * i)

			return value, nil
		}

		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("sevenzip: error reading number: %w", err)
		}

		value |= uint64(b) << (8 * i)
		mask >>= 1
	}

	return value, nil
}

// readBoolVector decodes a packed, MSB-first bitmap of length n.
func readBoolVector(r io.ByteReader, n int) ([]bool, error) {
	v := make([]bool, n)

	var (
		b    byte
		mask byte
		err  error
	)

	for i := range v {
		if mask == 0 {
			if b, err = r.ReadByte(); err != nil {
				return nil, fmt.Errorf("sevenzip: error reading bool vector: %w", err)
			}

			mask = 0x80
		}

		v[i] = b&mask != 0
		mask >>= 1
	}

	return v, nil
}

// readOptionalBoolVector implements the "all-defined / defined-bitmap"
// idiom shared across the header: a leading 0x01 byte means every value is
// defined, otherwise a packed bitmap of length ⌈n/8⌉ follows.
func readOptionalBoolVector(r io.ByteReader, n int) ([]bool, error) {
	allDefined, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading defined byte: %w", err)
	}

	if allDefined != 0 {
		v := make([]bool, n)
		for i := range v {
			v[i] = true
		}

		return v, nil
	}

	return readBoolVector(r, n)
}

func readDigests(r io.ByteReader, n int) ([]bool, []uint32, error) {
	defined, err := readOptionalBoolVector(r, n)
	if err != nil {
		return nil, nil, err
	}

	crc := make([]uint32, n)

	for i, d := range defined {
		if !d {
			continue
		}

		if crc[i], err = readUint32(r); err != nil {
			return nil, nil, err
		}
	}

	return defined, crc, nil
}

func readUint32(r io.ByteReader) (uint32, error) {
	var b [4]byte

	for i := range b {
		v, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("sevenzip: error reading uint32: %w", err)
		}

		b[i] = v
	}

	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.ByteReader) (uint64, error) {
	var b [8]byte

	for i := range b {
		v, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("sevenzip: error reading uint64: %w", err)
		}

		b[i] = v
	}

	return binary.LittleEndian.Uint64(b[:]), nil
}

func readByte(r io.ByteReader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("sevenzip: error reading id: %w", err)
	}

	return b, nil
}

func expect(r io.ByteReader, want byte) error {
	id, err := readByte(r)
	if err != nil {
		return err
	}

	if id != want {
		return errUnexpectedID
	}

	return nil
}

func readPackLayout(r io.ByteReader) (*packLayout, error) {
	start, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	n, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	pl := &packLayout{start: start, count: n}

	for {
		id, err := readByte(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idSize:
			pl.sizes = make([]uint64, n)

			for i := range pl.sizes {
				if pl.sizes[i], err = readNumber(r); err != nil {
					return nil, err
				}
			}
		case idCRC:
			_, digests, err := readDigests(r, int(n)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			pl.digests = digests
		case idEnd:
			return pl, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

func readCoderSpec(r io.ByteReader) (coderSpec, error) {
	attrib, err := readByte(r)
	if err != nil {
		return coderSpec{}, err
	}

	idSize := attrib & 0x0f
	isComplex := attrib&0x10 != 0
	hasAttributes := attrib&0x20 != 0

	c := coderSpec{numIn: 1, numOut: 1}

	if idSize > 0 {
		c.method = make([]byte, idSize)

		for i := range c.method {
			if c.method[i], err = readByte(r); err != nil {
				return coderSpec{}, err
			}
		}
	}

	if isComplex {
		if c.numIn, err = readNumber(r); err != nil {
			return coderSpec{}, err
		}

		if c.numOut, err = readNumber(r); err != nil {
			return coderSpec{}, err
		}
	}

	if hasAttributes {
		size, err := readNumber(r)
		if err != nil {
			return coderSpec{}, err
		}

		c.properties = make([]byte, size)

		for i := range c.properties {
			if c.properties[i], err = readByte(r); err != nil {
				return coderSpec{}, err
			}
		}
	}

	return c, nil
}

func readCoderFolder(r io.ByteReader) (*coderFolder, error) {
	numCoders, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	coders := make([]coderSpec, numCoders)

	for i := range coders {
		if coders[i], err = readCoderSpec(r); err != nil {
			return nil, err
		}
	}

	binds := make([]streamBind, numCoders-1)
	for i := range binds {
		in, err := readNumber(r)
		if err != nil {
			return nil, err
		}

		out, err := readNumber(r)
		if err != nil {
			return nil, err
		}

		binds[i] = streamBind{in: in, out: out}
	}

	f := newCoderFolder(coders, binds)

	if f.packCount == 1 {
		idx, ok := f.freeInput()
		if !ok {
			return nil, errNoUnboundStream
		}

		f.packIndices = []uint64{idx}
	} else {
		f.packIndices = make([]uint64, f.packCount)
		for i := range f.packIndices {
			if f.packIndices[i], err = readNumber(r); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

func readUnpackLayout(r io.ByteReader) (*unpackLayout, error) {
	if err := expect(r, idFolder); err != nil {
		return nil, err
	}

	n, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	external, err := readByte(r)
	if err != nil {
		return nil, err
	}

	if external != 0 {
		return nil, errUnsupportedFeature
	}

	ul := &unpackLayout{folders: make([]*coderFolder, n)}

	for i := range ul.folders {
		if ul.folders[i], err = readCoderFolder(r); err != nil {
			return nil, err
		}
	}

	if err := expect(r, idCodersUnpackSize); err != nil {
		return nil, err
	}

	for _, f := range ul.folders {
		f.outSizes = make([]uint64, f.externalOut)

		for i := range f.outSizes {
			if f.outSizes[i], err = readNumber(r); err != nil {
				return nil, err
			}
		}
	}

	for {
		id, err := readByte(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idCRC:
			defined, digests, err := readDigests(r, len(ul.folders))
			if err != nil {
				return nil, err
			}

			ul.digests = make([]uint32, len(ul.folders))

			for i, d := range defined {
				if d {
					ul.digests[i] = digests[i]
				}
			}
		case idEnd:
			return ul, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

func readSubstreamLayout(r io.ByteReader, ul *unpackLayout) (*substreamLayout, error) {
	sl := &substreamLayout{counts: make([]uint64, len(ul.folders))}
	for i := range sl.counts {
		sl.counts[i] = 1
	}

	id, err := readByte(r)
	if err != nil {
		return nil, err
	}

	if id == idNumUnpackStream {
		for i := range sl.counts {
			if sl.counts[i], err = readNumber(r); err != nil {
				return nil, err
			}
		}

		if id, err = readByte(r); err != nil {
			return nil, err
		}
	}

	for i, f := range ul.folders {
		if sl.counts[i] == 0 {
			continue
		}

		var sum uint64

		if id == idSize {
			for j := uint64(1); j < sl.counts[i]; j++ {
				size, err := readNumber(r)
				if err != nil {
					return nil, err
				}

				sum += size
				sl.sizes = append(sl.sizes, size)
			}
		}

		sl.sizes = append(sl.sizes, f.finalSize()-sum)
	}

	if id == idSize {
		if id, err = readByte(r); err != nil {
			return nil, err
		}
	}

	numDigests := 0

	for i := range ul.folders {
		if sl.counts[i] != 1 || len(ul.digests) == 0 || ul.digests[i] == 0 {
			numDigests += int(sl.counts[i])
		}
	}

	if id == idCRC {
		defined, digests, err := readDigests(r, numDigests)
		if err != nil {
			return nil, err
		}

		sl.digests = make([]uint32, 0, len(sl.counts))

		j := 0

		for i := range ul.folders {
			if sl.counts[i] == 1 && len(ul.digests) != 0 && ul.digests[i] != 0 {
				sl.digests = append(sl.digests, ul.digests[i])

				continue
			}

			for k := uint64(0); k < sl.counts[i]; k++ {
				if defined[j] {
					sl.digests = append(sl.digests, digests[j])
				} else {
					sl.digests = append(sl.digests, 0)
				}

				j++
			}
		}

		if id, err = readByte(r); err != nil {
			return nil, err
		}
	}

	if id != idEnd {
		return nil, errUnexpectedID
	}

	return sl, nil
}

func readStreamLayout(r io.ByteReader) (*streamLayout, error) {
	sl := new(streamLayout)

	for {
		id, err := readByte(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idPackInfo:
			if sl.pack, err = readPackLayout(r); err != nil {
				return nil, err
			}
		case idUnpackInfo:
			if sl.unpack, err = readUnpackLayout(r); err != nil {
				return nil, err
			}
		case idSubStreamsInfo:
			if sl.unpack == nil {
				return nil, errUnexpectedID
			}

			if sl.substreams, err = readSubstreamLayout(r, sl.unpack); err != nil {
				return nil, err
			}
		case idEnd:
			if sl.substreams == nil && sl.unpack != nil {
				// SubStreamsInfo is optional; default to one stream per folder.
				ss := &substreamLayout{counts: make([]uint64, len(sl.unpack.folders))}
				for i := range ss.counts {
					ss.counts[i] = 1
					ss.sizes = append(ss.sizes, sl.unpack.folders[i].finalSize())

					if len(sl.unpack.digests) != 0 {
						ss.digests = append(ss.digests, sl.unpack.digests[i])
					} else {
						ss.digests = append(ss.digests, 0)
					}
				}

				sl.substreams = ss
			}

			return sl, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

func filetimeToTime(raw uint64) time.Time {
	ft := windows.Filetime{
		LowDateTime:  uint32(raw),
		HighDateTime: uint32(raw >> 32),
	}

	return time.Unix(0, ft.Nanoseconds()).UTC()
}

func readDateTimeVector(r io.ByteReader, n int) ([]time.Time, error) {
	defined, err := readOptionalBoolVector(r, n)
	if err != nil {
		return nil, err
	}

	external, err := readByte(r)
	if err != nil {
		return nil, err
	}

	if external != 0 {
		return nil, errUnsupportedFeature
	}

	times := make([]time.Time, n)

	for i, d := range defined {
		if !d {
			continue
		}

		raw, err := readUint64(r)
		if err != nil {
			return nil, err
		}

		times[i] = filetimeToTime(raw)
	}

	return times, nil
}

func readAttributes(r io.ByteReader, n int) ([]uint32, error) {
	defined, err := readOptionalBoolVector(r, n)
	if err != nil {
		return nil, err
	}

	external, err := readByte(r)
	if err != nil {
		return nil, err
	}

	if external != 0 {
		return nil, errUnsupportedFeature
	}

	attr := make([]uint32, n)

	for i, d := range defined {
		if !d {
			continue
		}

		if attr[i], err = readUint32(r); err != nil {
			return nil, err
		}
	}

	return attr, nil
}

func readNames(r io.ByteReader, n int) ([]string, error) {
	external, err := readByte(r)
	if err != nil {
		return nil, err
	}

	if external != 0 {
		return nil, errUnsupportedFeature
	}

	names := make([]string, n)

	for i := range names {
		var units []uint16

		for {
			lo, err := readByte(r)
			if err != nil {
				return nil, err
			}

			hi, err := readByte(r)
			if err != nil {
				return nil, err
			}

			u := uint16(lo) | uint16(hi)<<8
			if u == 0 {
				break
			}

			units = append(units, u)
		}

		names[i] = string(utf16.Decode(units))
	}

	return names, nil
}

func readFileLayout(r io.ByteReader) (*fileLayout, error) {
	n, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	fl := &fileLayout{entries: make([]FileHeader, n)}

	var (
		emptyStream []bool
		numEmpty    int
	)

	for {
		id, err := readByte(r)
		if err != nil {
			return nil, err
		}

		if id == idEnd {
			return fl, nil
		}

		size, err := readNumber(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idEmptyStream:
			if emptyStream, err = readBoolVector(r, int(n)); err != nil { //nolint:gosec
				return nil, err
			}

			numEmpty = 0

			for i, v := range emptyStream {
				fl.entries[i].isEmptyStream = v

				if v {
					numEmpty++
				}
			}
		case idEmptyFile:
			empty, err := readBoolVector(r, numEmpty)
			if err != nil {
				return nil, err
			}

			j := 0

			for i := range fl.entries {
				if !fl.entries[i].isEmptyStream {
					continue
				}

				fl.entries[i].isEmptyFile = empty[j]
				j++
			}
		case idAnti:
			anti, err := readBoolVector(r, numEmpty)
			if err != nil {
				return nil, err
			}

			j := 0

			for i := range fl.entries {
				if !fl.entries[i].isEmptyStream {
					continue
				}

				fl.entries[i].isAnti = anti[j]
				j++
			}
		case idName:
			names, err := readNames(r, int(n)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			for i, name := range names {
				fl.entries[i].Name = name
			}
		case idCTime:
			times, err := readDateTimeVector(r, int(n)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			for i, t := range times {
				fl.entries[i].Created = t
			}
		case idATime:
			times, err := readDateTimeVector(r, int(n)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			for i, t := range times {
				fl.entries[i].Accessed = t
			}
		case idMTime:
			times, err := readDateTimeVector(r, int(n)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			for i, t := range times {
				fl.entries[i].Modified = t
			}
		case idWinAttributes:
			attr, err := readAttributes(r, int(n)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			for i, a := range attr {
				fl.entries[i].Attributes = a
			}
		case idDummy:
			for i := uint64(0); i < size; i++ {
				if _, err := readByte(r); err != nil {
					return nil, err
				}
			}
		default:
			if err := skip(r, size); err != nil {
				return nil, err
			}
		}
	}
}

func skip(r io.ByteReader, n uint64) error {
	for i := uint64(0); i < n; i++ {
		if _, err := readByte(r); err != nil {
			return err
		}
	}

	return nil
}

func readHeader(r io.ByteReader) (*metadataHeader, error) {
	h := new(metadataHeader)

	for {
		id, err := readByte(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idArchiveProperties:
			return nil, errUnsupportedFeature
		case idAdditionalStreams:
			return nil, errUnsupportedFeature
		case idMainStreamsInfo:
			if h.streams, err = readStreamLayout(r); err != nil {
				return nil, err
			}
		case idFilesInfo:
			if h.files, err = readFileLayout(r); err != nil {
				return nil, err
			}
		case idEnd:
			return h, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

// decodeHeader reads the top-level header id from br and returns the fully
// decoded metadata header, recursing through nested EncodedHeader wrappers
// up to maxEncodedHeaderDepth levels deep. Each level decodes a
// streamLayout describing where the next level's bytes live, decompresses
// them through z.folderReader and continues from there.
func (z *Reader) decodeHeader(br *bufio.Reader, depth int) (*metadataHeader, error) {
	id, err := readByte(br)
	if err != nil {
		return nil, err
	}

	switch id {
	case idHeader:
		return readHeader(br)
	case idEncodedHeader:
		if depth >= maxEncodedHeaderDepth {
			return nil, errRecursionLimit
		}

		return z.decodeEncodedHeader(br, depth)
	default:
		return nil, errUnexpectedID
	}
}

// decodeEncodedHeader decompresses the single folder described by the
// streamLayout starting at br and recurses into its output, one level
// deeper than the caller.
func (z *Reader) decodeEncodedHeader(br *bufio.Reader, depth int) (h *metadataHeader, err error) {
	streams, err := readStreamLayout(br)
	if err != nil {
		return nil, err
	}

	if streams.FolderCount() != 1 {
		return nil, errOneHeaderStream
	}

	fr, crc, encrypted, err := z.folderReader(streams, 0)
	if err != nil {
		return nil, &ReadError{Encrypted: encrypted, Err: err}
	}

	defer func() {
		err = errors.Join(err, fr.Close())
	}()

	inner := bufio.NewReader(util.ByteReadCloser(fr))

	h, err = z.decodeHeader(inner, depth+1)
	if err != nil {
		return nil, &ReadError{Encrypted: fr.hasEncryption, Err: err}
	}

	if crc != 0 && !util.CRC32Equal(fr.Checksum(), crc) {
		return nil, errChecksum
	}

	return h, nil
}
