package sevenzip

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-archive/sevenzip/internal/util"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// FileInfo describes a single logical file for [Reader.List], mirroring the
// fields py7zr's FileInfo dataclass exposes.
type FileInfo struct {
	Name         string
	Compressed   uint64
	Uncompressed uint64
	Archivable   bool
	IsDirectory  bool
	Modified     time.Time
}

// ArchiveInfo summarises the whole archive for [Reader.ArchiveInfo].
type ArchiveInfo struct {
	Size       int64
	HeaderSize int64
	Method     []string
	Solid      bool
	Folders    int
}

//nolint:gochecknoglobals
var methodNames = map[string]string{
	"\x00":            "COPY",
	"\x03":            "DELTA",
	"\x03\x01\x01":     "LZMA",
	"\x21":             "LZMA2",
	"\x03\x03\x01\x03": "BCJ",
	"\x03\x03\x01\x1b": "BCJ2",
	"\x04\x01\x08":     "DEFLATE",
	"\x04\x02\x02":     "BZIP2",
	"\x04\xf7\x11\x01": "ZSTD",
	"\x04\xf7\x11\x02": "BROTLI",
	"\x04\xf7\x11\x04": "LZ4",
	"\x06\xf1\x07\x01": "AES256SHA256",
}

func methodName(id []byte) string {
	if name, ok := methodNames[string(id)]; ok {
		return name
	}

	return fmt.Sprintf("%x", id)
}

// Names returns the archive's file names, in header order.
func (z *Reader) Names() []string {
	names := make([]string, len(z.File))
	for i, f := range z.File {
		names[i] = f.Name
	}

	return names
}

// List returns a [FileInfo] for every file in the archive, in header order.
func (z *Reader) List() []FileInfo {
	infos := make([]FileInfo, len(z.File))

	for i, f := range z.File {
		compressed, _ := z.compressedSize(f)

		infos[i] = FileInfo{
			Name:         f.Name,
			Compressed:   compressed,
			Uncompressed: f.UncompressedSize,
			Archivable:   !f.FileInfo().IsDir(),
			IsDirectory:  f.FileInfo().IsDir(),
			Modified:     f.Modified,
		}
	}

	return infos
}

// compressedSize reports the compressed size for a file, when that concept
// is well-defined: only when its folder holds exactly one substream, since a
// solid folder's packed bytes aren't attributable to any single file inside it.
func (z *Reader) compressedSize(f *File) (uint64, bool) {
	if f.FileHeader.isEmptyStream {
		return 0, true
	}

	folder := z.si.unpack.folders[f.folder]

	n := z.si.substreams.counts[f.folder]
	if n != 1 {
		return 0, false
	}

	idx := 0

	for i := 0; i < f.folder; i++ {
		idx += int(z.si.unpack.folders[i].packCount) //nolint:gosec
	}

	var sum uint64
	for i := uint64(0); i < folder.packCount; i++ {
		sum += z.si.pack.sizes[idx+int(i)] //nolint:gosec
	}

	return sum, true
}

// ArchiveInfo summarises the archive's size, header size, coders in use,
// solidity and folder count.
func (z *Reader) ArchiveInfo() ArchiveInfo {
	info := ArchiveInfo{
		Size:       z.size,
		HeaderSize: z.headerSize,
		Folders:    z.si.FolderCount(),
	}

	seen := make(map[string]struct{})

	for _, f := range z.si.unpack.folders {
		if f.packCount > 1 {
			info.Solid = true
		}

		for _, c := range f.coders {
			name := methodName(c.method)
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}

				info.Method = append(info.Method, name)
			}
		}
	}

	if len(z.si.unpack.folders) > 0 && z.si.substreams != nil {
		for _, n := range z.si.substreams.counts {
			if n > 1 {
				info.Solid = true

				break
			}
		}
	}

	sort.Strings(info.Method)

	return info
}

// Test verifies every folder and substream CRC (when present) by
// decompressing every folder without writing output; pack-stream CRCs are
// not checked. It returns false on
// any mismatch or decompression failure rather than raising an error. Use
// [Reader.TestWithDetails] to find out which folders and files failed.
func (z *Reader) Test() bool {
	ok, _ := z.TestWithDetails()

	return ok
}

// TestWithDetails is [Reader.Test] plus the list of folders that failed
// verification, each reported as a [*CorruptError] naming the folder index
// and the files it carries. Folders are checked sequentially; a failure in
// one folder doesn't stop the rest from being checked.
func (z *Reader) TestWithDetails() (bool, error) {
	byFolder := make(map[int][]*File)

	for _, f := range z.File {
		if f.FileHeader.isEmptyStream {
			continue
		}

		byFolder[f.folder] = append(byFolder[f.folder], f)
	}

	ok := true

	var errs *multierror.Error

	for folderIdx := 0; folderIdx < z.si.FolderCount(); folderIdx++ {
		files := byFolder[folderIdx]

		names := make([]string, len(files))
		for i, f := range files {
			names[i] = f.Name
		}

		if err := z.testFolder(folderIdx, files); err != nil {
			ok = false
			errs = multierror.Append(errs, &CorruptError{Folder: folderIdx, Files: names, Err: err})
		}
	}

	return ok, errs.ErrorOrNil()
}

// testFolder decompresses a single folder and checks every substream's CRC
// (when recorded) plus the folder's own CRC, stopping at the first failure.
func (z *Reader) testFolder(folderIdx int, files []*File) error {
	rc, folderCRC, _, err := z.folderReader(z.si, folderIdx)
	if err != nil {
		return err
	}

	defer rc.Close()

	for _, f := range files {
		hh := crc32.NewIEEE()

		if _, err := io.CopyN(hh, rc, int64(f.UncompressedSize)); err != nil { //nolint:gosec
			return fmt.Errorf("sevenzip: error reading %s: %w", f.Name, err)
		}

		if f.CRC32 != 0 && !util.CRC32Equal(hh.Sum(nil), f.CRC32) {
			return fmt.Errorf("%w: %s", ErrCorrupt, f.Name)
		}
	}

	if folderCRC != 0 && !util.CRC32Equal(rc.Checksum(), folderCRC) {
		return ErrCorrupt
	}

	return nil
}

func validPath(name string) error {
	clean := path.Clean(strings.ReplaceAll(name, `\`, `/`))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %s", ErrPathEscape, name)
	}

	return nil
}

// ExtractAll extracts every file in the archive into target, which is
// created (along with any missing parent directories) inside fsys. Entry
// names are validated against path escape before anything is written.
// Each regular file's CRC-32, when recorded, is checked before its output
// is closed; a mismatch is reported as [ErrCorrupt] once the rest of that
// folder's files have been written.
//
// Files sharing a folder are extracted in header order by whichever
// goroutine draws that folder; when the archive has more than one folder
// with data to extract, no two entries share a name and no folder shares a
// pack stream with another (see [Reader.canExtractConcurrently]), one
// folder per goroutine runs
// concurrently, since File.Open pools its decompressed readers per folder
// behind a mutex and is documented safe for concurrent use.
func (z *Reader) ExtractAll(fsys afero.Fs, target string) error {
	for _, f := range z.File {
		if err := validPath(f.Name); err != nil {
			return err
		}
	}

	if err := fsys.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("sevenzip: error creating %s: %w", target, err)
	}

	byFolder := make(map[int][]*File)

	for _, f := range z.File {
		switch {
		case f.FileHeader.isAnti:
			_ = fsys.Remove(path.Join(target, f.Name))
		case f.FileHeader.isEmptyStream:
			if err := z.extractFile(fsys, target, f); err != nil {
				return err
			}
		default:
			byFolder[f.folder] = append(byFolder[f.folder], f)
		}
	}

	extract := func(files []*File) error {
		var firstErr error

		for _, f := range files {
			if err := z.extractFile(fsys, target, f); err != nil {
				if !errors.Is(err, ErrCorrupt) {
					return err
				}

				if firstErr == nil {
					firstErr = err
				}
			}
		}

		return firstErr
	}

	if !z.canExtractConcurrently(byFolder) {
		for _, files := range byFolder {
			if err := extract(files); err != nil {
				return err
			}
		}

		return nil
	}

	var g errgroup.Group

	for _, files := range byFolder {
		files := files

		g.Go(func() error {
			return extract(files)
		})
	}

	return g.Wait() //nolint:wrapcheck
}

// canExtractConcurrently reports whether the folders holding files worth
// extracting can safely run one per goroutine: there must be more than one
// such folder, no two entries in the archive may share a name, and none of
// them may share a pack stream with another folder. A coder with multiple input streams (BCJ2, for instance) can
// leave a folder's packed data interleaved with its neighbour's, so
// decoding two such folders at once would mean two goroutines reading
// through the same underlying section concurrently.
func (z *Reader) canExtractConcurrently(byFolder map[int][]*File) bool {
	if len(byFolder) <= 1 {
		return false
	}

	seen := make(map[string]struct{}, len(z.File))

	for _, f := range z.File {
		if _, dup := seen[f.Name]; dup {
			return false
		}

		seen[f.Name] = struct{}{}
	}

	var packed uint64

	for _, f := range z.si.unpack.folders {
		packed += f.packCount
	}

	return packed == uint64(len(z.si.unpack.folders))
}

func (z *Reader) extractFile(fsys afero.Fs, target string, f *File) error {
	dest := path.Join(target, f.Name)

	if f.FileInfo().IsDir() {
		return fsys.MkdirAll(dest, f.Mode().Perm()|0o700) //nolint:wrapcheck
	}

	if err := fsys.MkdirAll(path.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("sevenzip: error creating %s: %w", path.Dir(dest), err)
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}

	defer rc.Close()

	if f.Mode()&iofs.ModeSymlink != 0 {
		return z.extractSymlink(fsys, dest, rc)
	}

	out, err := fsys.OpenFile(dest, os.O_RDWR|os.O_CREATE|os.O_TRUNC, f.Mode().Perm())
	if err != nil {
		return fmt.Errorf("sevenzip: error creating %s: %w", dest, err)
	}

	h := crc32.NewIEEE()

	if _, err := io.Copy(io.MultiWriter(out, h), rc); err != nil {
		errs := multierror.Append(err, out.Close())

		return fmt.Errorf("sevenzip: error extracting %s: %w", dest, errs.ErrorOrNil())
	}

	if f.CRC32 != 0 && !util.CRC32Equal(h.Sum(nil), f.CRC32) {
		_ = out.Close()

		return fmt.Errorf("%w: %s", ErrCorrupt, dest)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("sevenzip: error closing %s: %w", dest, err)
	}

	if !f.Modified.IsZero() {
		_ = fsys.Chtimes(dest, f.Accessed, f.Modified)
	}

	return nil
}

func (z *Reader) extractSymlink(fsys afero.Fs, dest string, rc io.ReadCloser) error {
	target, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("sevenzip: error reading symlink target: %w", err)
	}

	if linker, ok := fsys.(afero.Linker); ok {
		return linker.SymlinkIfPossible(string(target), dest) //nolint:wrapcheck
	}

	// No symlink support in this afero.Fs backend; fall back to writing
	// the target path as the file's contents.
	out, err := fsys.Create(dest)
	if err != nil {
		return fmt.Errorf("sevenzip: error creating %s: %w", dest, err)
	}

	defer out.Close()

	_, err = out.Write(target)

	return err //nolint:wrapcheck
}
