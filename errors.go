package sevenzip

import (
	"errors"
	"strconv"
)

// Exported error sentinels, one per error kind. Callers should use
// errors.Is against these rather than matching on message text.
var (
	// ErrFormat indicates no 7-zip signature was found within the first MiB
	// of the input.
	ErrFormat = errFormat

	// ErrBadHeader indicates a structural violation while decoding the
	// metadata header: an unexpected or out-of-place property id.
	ErrBadHeader = errUnexpectedID

	// ErrCorrupt indicates a CRC-32 mismatch: start header, next header, a
	// folder's unpacked stream, or a substream. Pack-stream CRCs are not
	// checked.
	ErrCorrupt = errChecksum

	// ErrTruncated names the truncated-archive error kind. Nothing in this
	// package returns it: a byte source that ends early is reported through
	// the io.EOF or io.ErrUnexpectedEOF of the read that reached its end.
	ErrTruncated = errTruncated

	// ErrUnsupportedMethod indicates no Decompressor is registered for a
	// coder's method id.
	ErrUnsupportedMethod = errAlgorithm

	// ErrUnsupportedFeature indicates a structurally valid but
	// unimplemented feature: additional streams, archive properties, or
	// external data.
	ErrUnsupportedFeature = errUnsupportedFeature

	// ErrPathEscape indicates an archive entry's name would resolve
	// outside of the extraction root.
	ErrPathEscape = errors.New("sevenzip: entry path escapes extraction root")
)

var errTruncated = errors.New("sevenzip: truncated archive")

// CorruptError reports which files were affected when a folder fails CRC
// verification or decompression during [Reader.TestWithDetails].
type CorruptError struct {
	Folder int
	Files  []string
	Err    error
}

func (e *CorruptError) Error() string {
	return "sevenzip: corrupt folder " + strconv.Itoa(e.Folder) + ": " + e.Err.Error()
}

func (e *CorruptError) Unwrap() error {
	return ErrCorrupt
}
