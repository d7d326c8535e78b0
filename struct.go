package sevenzip

import (
	"bufio"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	iofs "io/fs"
	"path"
	"time"

	"github.com/bodgit/plumbing"
	"github.com/go-archive/sevenzip/internal/util"
)

var (
	errAlgorithm             = errors.New("sevenzip: unsupported compression algorithm")
	errInvalidWhence         = errors.New("invalid whence")
	errNegativeSeek          = errors.New("negative seek")
	errSeekBackwards         = errors.New("cannot seek backwards")
	errSeekEOF               = errors.New("cannot seek beyond EOF")
	errMultipleOutputStreams = errors.New("more than one output stream")
	errNoBoundStream         = errors.New("cannot find bound stream")
	errNoUnboundStream       = errors.New("expecting one unbound output stream")
)

// CryptoReadCloser adds a Password method to decompressors that need one,
// namely AES. Satisfying this interface is how a [Decompressor] opts in to
// being reported as an encryption coder by [folderStream.hasEncryption].
type CryptoReadCloser interface {
	Password(password string) error
}

type signatureHeader struct {
	Signature [6]byte
	Major     byte
	Minor     byte
	CRC       uint32
}

type startHeader struct {
	Offset uint64
	Size   uint64
	CRC    uint32
}

// packLayout is the PackInfo section: where the archive's pack streams
// begin and how big each one is.
type packLayout struct {
	start   uint64
	count   uint64
	sizes   []uint64
	digests []uint32
}

// coderSpec is one coder in a folder's chain: a method id plus however many
// input/output streams and properties bytes it declares.
type coderSpec struct {
	method     []byte
	numIn      uint64
	numOut     uint64
	properties []byte
}

// streamBind wires one coder's output stream to another coder's input
// stream, using folder-local stream numbering.
type streamBind struct {
	in, out uint64
}

// coderRange records where in the folder-wide input/output numbering a
// single coder's streams fall, computed once so the DAG walk in
// [streamLayout.decodeFolder] never has to re-derive it from a running
// counter.
type coderRange struct {
	inStart, inEnd   uint64
	outStart, outEnd uint64
}

// coderFolder is a folder: an ordered chain of coders feeding each other
// according to bind pairs, with exactly one external input slot left over
// per pack stream and exactly one external output (the folder's final
// decompressed bytes).
type coderFolder struct {
	coders      []coderSpec
	binds       []streamBind
	packIndices []uint64
	outSizes    []uint64

	externalIn  uint64
	externalOut uint64
	packCount   uint64

	ranges []coderRange

	// sourceOfInput maps a folder-local input index to the output index
	// that feeds it via a bind pair. Inputs absent from this map are fed
	// directly by a pack stream instead.
	sourceOfInput map[uint64]uint64
	// consumedOutput marks every output index already claimed by a bind
	// pair, so the folder's one true external output is whichever index
	// is missing from this set.
	consumedOutput map[uint64]bool
}

// newCoderFolder derives the lookup tables and stream-numbering ranges a
// folder needs from its raw coder list and bind pairs. header.go calls this
// once per folder while parsing UnpackInfo; every later lookup is then a
// map hit instead of a scan.
func newCoderFolder(coders []coderSpec, binds []streamBind) *coderFolder {
	f := &coderFolder{
		coders:         coders,
		binds:          binds,
		sourceOfInput:  make(map[uint64]uint64, len(binds)),
		consumedOutput: make(map[uint64]bool, len(binds)),
		ranges:         make([]coderRange, len(coders)),
	}

	var in, out uint64

	for i, c := range coders {
		f.ranges[i] = coderRange{inStart: in, inEnd: in + c.numIn, outStart: out, outEnd: out + c.numOut}
		in += c.numIn
		out += c.numOut
	}

	f.externalIn, f.externalOut = in, out

	for _, b := range binds {
		f.sourceOfInput[b.in] = b.out
		f.consumedOutput[b.out] = true
	}

	f.packCount = f.externalIn - uint64(len(binds))

	return f
}

// freeInput returns the lowest folder-local input index not fed by a bind
// pair, used while parsing a folder whose single pack stream index isn't
// spelled out explicitly in the header.
func (f *coderFolder) freeInput() (uint64, bool) {
	for i := uint64(0); i < f.externalIn; i++ {
		if _, bound := f.sourceOfInput[i]; !bound {
			return i, true
		}
	}

	return 0, false
}

// finalSize is the unpack size of whichever coder's output isn't consumed
// by a bind pair: the folder's externally visible decompressed size.
func (f *coderFolder) finalSize() uint64 {
	if len(f.outSizes) == 0 {
		return 0
	}

	for i := len(f.outSizes) - 1; i >= 0; i-- {
		if !f.consumedOutput[uint64(i)] {
			return f.outSizes[i]
		}
	}

	return f.outSizes[len(f.outSizes)-1]
}

// runCoder instantiates the Decompressor registered for coder idx and feeds
// it readers, returning whether the coder is an encryption coder (it
// implements [CryptoReadCloser]) alongside its size-limited output.
func (f *coderFolder) runCoder(readers []io.ReadCloser, idx uint64, password string) (io.ReadCloser, bool, error) {
	spec := f.coders[idx]

	dcomp := decompressor(spec.method)
	if dcomp == nil {
		return nil, false, errAlgorithm
	}

	cr, err := dcomp(spec.properties, f.outSizes[idx], readers)
	if err != nil {
		return nil, false, err
	}

	var encrypted bool

	if pw, ok := cr.(CryptoReadCloser); ok {
		encrypted = true

		if err := pw.Password(password); err != nil {
			return nil, true, fmt.Errorf("sevenzip: error setting password: %w", err)
		}
	}

	return plumbing.LimitReadCloser(cr, int64(f.outSizes[idx])), encrypted, nil //nolint:gosec
}

// folderStream wraps a folder's fully-assembled decompressed output with a
// running CRC-32 and a byte counter, giving it the Seek semantics
// [fileReader] needs to jump between files sharing the same solid folder.
type folderStream struct {
	io.ReadCloser
	sum           hash.Hash
	counter       *plumbing.WriteCounter
	size          int64
	hasEncryption bool
}

func newFolderStream(rc io.ReadCloser, size int64, hasEncryption bool) *folderStream {
	fs := new(folderStream)
	fs.sum = crc32.NewIEEE()
	fs.counter = new(plumbing.WriteCounter)
	fs.ReadCloser = plumbing.TeeReadCloser(rc, io.MultiWriter(fs.sum, fs.counter))
	fs.size = size
	fs.hasEncryption = hasEncryption

	return fs
}

func (fs *folderStream) Checksum() []byte {
	return fs.sum.Sum(nil)
}

func (fs *folderStream) Size() int64 {
	return fs.size
}

// Seek only ever moves forward, discarding bytes to get there: the
// underlying decompressor chain has no way to rewind.
func (fs *folderStream) Seek(offset int64, whence int) (int64, error) {
	var target int64

	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(fs.counter.Count()) + offset //nolint:gosec
	case io.SeekEnd:
		target = fs.Size() + offset
	default:
		return 0, errInvalidWhence
	}

	if target < 0 {
		return 0, errNegativeSeek
	}

	if uint64(target) < fs.counter.Count() {
		return 0, errSeekBackwards
	}

	if target > fs.Size() {
		return 0, errSeekEOF
	}

	if _, err := io.CopyN(io.Discard, fs, target-int64(fs.counter.Count())); err != nil { //nolint:gosec
		return 0, fmt.Errorf("sevenzip: error seeking: %w", err)
	}

	return target, nil
}

// unpackLayout is the UnpackInfo section: every folder plus, optionally,
// one CRC-32 per folder.
type unpackLayout struct {
	folders []*coderFolder
	digests []uint32
}

// substreamLayout is the SubstreamsInfo section: how each folder's final
// decompressed bytes split across the files it holds.
type substreamLayout struct {
	counts  []uint64
	sizes   []uint64
	digests []uint32
}

// streamLayout ties PackInfo, UnpackInfo and SubstreamsInfo together; it's
// everything needed to locate and decompress any file in the archive.
type streamLayout struct {
	pack       *packLayout
	unpack     *unpackLayout
	substreams *substreamLayout
}

// FolderCount reports how many folders the archive has, or zero for a
// nil/empty layout (an archive with no data streams at all).
func (s *streamLayout) FolderCount() int {
	if s != nil && s.unpack != nil {
		return len(s.unpack.folders)
	}

	return 0
}

// LocateFile returns which folder the file-th non-empty file lives in,
// along with its uncompressed size and CRC-32 (zero if undefined). file
// counts only files that actually consume a substream, in header order.
func (s *streamLayout) LocateFile(file int) (int, uint64, uint32) {
	var (
		folderIdx       int
		streamsInFolder uint64 = 1
		crc             uint32
	)

	if s.substreams != nil {
		total := uint64(0)

		for folderIdx, streamsInFolder = range s.substreams.counts {
			total += streamsInFolder
			if uint64(file) < total { //nolint:gosec
				break
			}
		}

		if len(s.substreams.digests) > 0 {
			crc = s.substreams.digests[file]
		}
	}

	if streamsInFolder == 1 {
		if len(s.unpack.digests) > 0 {
			crc = s.unpack.digests[folderIdx]
		}

		return folderIdx, s.unpack.folders[folderIdx].finalSize(), crc
	}

	return folderIdx, s.substreams.sizes[file], crc
}

// folderByteOffset returns the absolute offset (relative to the archive's
// own coordinate space) of the folder-th folder's first pack stream.
func (s *streamLayout) folderByteOffset(folderIdx int) int64 {
	var packed uint64

	for i, streamIdx := 0, uint64(0); i < folderIdx; i++ {
		span := s.unpack.folders[i].packCount

		for j := streamIdx; j < streamIdx+span; j++ {
			packed += s.pack.sizes[j]
		}

		streamIdx += span
	}

	return int64(s.pack.start + packed) //nolint:gosec
}

// decodeFolder assembles a folder's full coder chain against the packed
// bytes in r, returning a seekable stream of the folder's decompressed
// output plus its recorded CRC-32 (0 if absent) and whether any coder in
// the chain needs a password.
//
//nolint:cyclop,funlen,lll
func (s *streamLayout) decodeFolder(r io.ReaderAt, folderIdx int, password string) (*folderStream, uint32, bool, error) {
	f := s.unpack.folders[folderIdx]

	in := make([]io.ReadCloser, f.externalIn)
	out := make([]io.ReadCloser, f.externalOut)

	var packStart uint64

	for i := 0; i < folderIdx; i++ {
		packStart += uint64(len(s.unpack.folders[i].packIndices))
	}

	var byteOffset int64

	for i, packedInput := range f.packIndices {
		size := int64(s.pack.sizes[packStart+uint64(i)]) //nolint:gosec
		section := io.NewSectionReader(r, s.folderByteOffset(folderIdx)+byteOffset, size)
		in[packedInput] = util.NopCloser(bufio.NewReader(section))
		byteOffset += size
	}

	var hasEncryption bool

	for i, c := range f.coders {
		if c.numOut != 1 {
			return nil, 0, hasEncryption, errMultipleOutputStreams
		}

		span := f.ranges[i]

		for j := span.inStart; j < span.inEnd; j++ {
			if in[j] != nil {
				continue
			}

			sourceOut, bound := f.sourceOfInput[j]
			if !bound || out[sourceOut] == nil {
				return nil, 0, hasEncryption, errNoBoundStream
			}

			in[j] = out[sourceOut]
		}

		result, encrypted, err := f.runCoder(in[span.inStart:span.inEnd], uint64(i), password) //nolint:gosec
		if err != nil {
			return nil, 0, hasEncryption, err
		}

		out[span.outStart] = result

		if encrypted {
			hasEncryption = true
		}
	}

	var finalOutput = -1

	for i := uint64(0); i < f.externalOut; i++ {
		if f.consumedOutput[i] {
			continue
		}

		if finalOutput != -1 {
			return nil, 0, hasEncryption, errNoUnboundStream
		}

		finalOutput = int(i) //nolint:gosec
	}

	if finalOutput == -1 || out[finalOutput] == nil {
		return nil, 0, hasEncryption, errNoUnboundStream
	}

	fr := newFolderStream(out[finalOutput], int64(f.finalSize()), hasEncryption) //nolint:gosec

	if s.unpack.digests != nil {
		return fr, s.unpack.digests[folderIdx], hasEncryption, nil
	}

	return fr, 0, hasEncryption, nil
}

// fileLayout is the FilesInfo section: the ordered list of file records.
type fileLayout struct {
	entries []FileHeader
}

// metadataHeader is the fully decoded top-level Header block: a
// streamLayout describing the packed data plus a fileLayout naming it.
type metadataHeader struct {
	streams *streamLayout
	files   *fileLayout
}

// FileHeader describes a file within a 7-zip file.
type FileHeader struct {
	Name             string
	Created          time.Time
	Accessed         time.Time
	Modified         time.Time
	Attributes       uint32
	CRC32            uint32
	UncompressedSize uint64

	// Stream is an opaque identifier representing the compressed stream
	// that contains the file. Any File with the same value can be assumed
	// to be stored within the same stream.
	Stream int

	isEmptyStream bool
	isEmptyFile   bool
	isAnti        bool
}

// IsAnti reports whether the file is an anti-item: a tombstone meaning the
// path should be deleted at extraction time rather than written.
func (h *FileHeader) IsAnti() bool {
	return h.isAnti
}

// FileInfo returns an [fs.FileInfo] for the FileHeader.
func (h *FileHeader) FileInfo() iofs.FileInfo {
	return headerFileInfo{h}
}

type headerFileInfo struct {
	fh *FileHeader
}

func (fi headerFileInfo) Name() string        { return path.Base(fi.fh.Name) }
func (fi headerFileInfo) Size() int64         { return int64(fi.fh.UncompressedSize) } //nolint:gosec
func (fi headerFileInfo) IsDir() bool         { return fi.Mode().IsDir() }
func (fi headerFileInfo) ModTime() time.Time  { return fi.fh.Modified.UTC() }
func (fi headerFileInfo) Mode() iofs.FileMode { return fi.fh.Mode() }
func (fi headerFileInfo) Type() iofs.FileMode { return fi.fh.Mode().Type() }
func (fi headerFileInfo) Sys() interface{}    { return fi.fh }

func (fi headerFileInfo) Info() (iofs.FileInfo, error) { return fi, nil }

// POSIX file-type bits packed into the high 16 bits of FileHeader.Attributes
// when the UNIX_EXTENSION flag is set. 7-zip itself doesn't document these;
// they're the values every Unix 7z implementation agrees on.
const (
	sIFMT   = 0xf000
	sIFSOCK = 0xc000
	sIFLNK  = 0xa000
	sIFREG  = 0x8000
	sIFBLK  = 0x6000
	sIFDIR  = 0x4000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sISUID  = 0x800
	sISGID  = 0x400
	sISVTX  = 0x200

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

// Mode returns the permission and mode bits for the FileHeader.
func (h *FileHeader) Mode() (mode iofs.FileMode) {
	// Prefer the POSIX attributes if they're present
	if h.Attributes&0xf0000000 != 0 {
		mode = unixModeToFileMode(h.Attributes >> 16)
	} else {
		mode = msdosModeToFileMode(h.Attributes)
	}

	return
}

func msdosModeToFileMode(m uint32) (mode iofs.FileMode) {
	if m&msdosDir != 0 {
		mode = iofs.ModeDir | 0o777
	} else {
		mode = 0o666
	}

	if m&msdosReadOnly != 0 {
		mode &^= 0o222
	}

	return mode
}

//nolint:cyclop
func unixModeToFileMode(m uint32) iofs.FileMode {
	mode := iofs.FileMode(m & 0o777)

	switch m & sIFMT {
	case sIFBLK:
		mode |= iofs.ModeDevice
	case sIFCHR:
		mode |= iofs.ModeDevice | iofs.ModeCharDevice
	case sIFDIR:
		mode |= iofs.ModeDir
	case sIFIFO:
		mode |= iofs.ModeNamedPipe
	case sIFLNK:
		mode |= iofs.ModeSymlink
	case sIFREG:
		// nothing to do
	case sIFSOCK:
		mode |= iofs.ModeSocket
	}

	if m&sISGID != 0 {
		mode |= iofs.ModeSetgid
	}

	if m&sISUID != 0 {
		mode |= iofs.ModeSetuid
	}

	if m&sISVTX != 0 {
		mode |= iofs.ModeSticky
	}

	return mode
}
