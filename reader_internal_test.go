//nolint:wrapcheck
package sevenzip

import (
	"bufio"
	"bytes"
	"errors"
	iofs "io/fs"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errAssertion = errors.New("type assertion failed")

type stubFileInfo struct {
	mock.Mock
}

func (s *stubFileInfo) Name() string {
	return s.Called().String(0)
}

func (s *stubFileInfo) Size() int64 {
	args := s.Called()

	size, ok := args.Get(0).(int64)
	if !ok {
		panic(errAssertion)
	}

	return size
}

func (s *stubFileInfo) Mode() iofs.FileMode {
	args := s.Called()

	mode, ok := args.Get(0).(iofs.FileMode)
	if !ok {
		panic(errAssertion)
	}

	return mode
}

func (s *stubFileInfo) ModTime() time.Time {
	args := s.Called()

	modTime, ok := args.Get(0).(time.Time)
	if !ok {
		panic(errAssertion)
	}

	return modTime
}

func (s *stubFileInfo) IsDir() bool {
	return s.Called().Bool(0)
}

func (s *stubFileInfo) Sys() any {
	return s.Called().Get(0)
}

func newStubFileInfo(tb testing.TB) *stubFileInfo {
	tb.Helper()

	s := new(stubFileInfo)
	s.Test(tb)

	tb.Cleanup(func() { s.AssertExpectations(tb) })

	return s
}

type stubVolume struct {
	mock.Mock
}

func (s *stubVolume) Name() string {
	return s.Called().String(0)
}

func (s *stubVolume) Readdir(count int) ([]os.FileInfo, error) {
	args := s.Called(count)

	infos, ok := args.Get(0).([]os.FileInfo)
	if infos != nil && !ok {
		panic(errAssertion)
	}

	return infos, args.Error(1)
}

func (s *stubVolume) Readdirnames(n int) ([]string, error) {
	args := s.Called(n)

	names, ok := args.Get(0).([]string)
	if names != nil && !ok {
		panic(errAssertion)
	}

	return names, args.Error(1)
}

func (s *stubVolume) Stat() (os.FileInfo, error) {
	args := s.Called()

	info, ok := args.Get(0).(os.FileInfo)
	if info != nil && !ok {
		panic(errAssertion)
	}

	return info, args.Error(1)
}

func (s *stubVolume) Sync() error {
	return s.Called().Error(0)
}

func (s *stubVolume) Truncate(size int64) error {
	return s.Called(size).Error(0)
}

func (s *stubVolume) WriteString(str string) (int, error) {
	args := s.Called(str)

	return args.Int(0), args.Error(1)
}

func (s *stubVolume) Close() error {
	return s.Called().Error(0)
}

func (s *stubVolume) Read(p []byte) (int, error) {
	args := s.Called(p)

	return args.Int(0), args.Error(1)
}

func (s *stubVolume) ReadAt(p []byte, off int64) (int, error) {
	args := s.Called(p, off)

	return args.Int(0), args.Error(1)
}

func (s *stubVolume) Seek(offset int64, whence int) (int64, error) {
	args := s.Called(offset, whence)

	n, ok := args.Get(0).(int64)
	if !ok {
		panic(errAssertion)
	}

	return n, args.Error(1)
}

func (s *stubVolume) Write(p []byte) (int, error) {
	args := s.Called(p)

	return args.Int(0), args.Error(1)
}

func (s *stubVolume) WriteAt(p []byte, off int64) (int, error) {
	args := s.Called(p, off)

	return args.Int(0), args.Error(1)
}

func newStubVolume(tb testing.TB) *stubVolume {
	tb.Helper()

	s := new(stubVolume)
	s.Test(tb)

	tb.Cleanup(func() { s.AssertExpectations(tb) })

	return s
}

type stubFs struct {
	mock.Mock
}

func (s *stubFs) Create(name string) (afero.File, error) {
	args := s.Called(name)

	file, ok := args.Get(0).(afero.File)
	if file != nil && !ok {
		panic(errAssertion)
	}

	return file, args.Error(1)
}

func (s *stubFs) Mkdir(name string, perm os.FileMode) error {
	return s.Called(name, perm).Error(0)
}

func (s *stubFs) MkdirAll(path string, perm os.FileMode) error {
	return s.Called(path, perm).Error(0)
}

func (s *stubFs) Open(name string) (afero.File, error) {
	args := s.Called(name)

	file, ok := args.Get(0).(afero.File)
	if file != nil && !ok {
		panic(errAssertion)
	}

	return file, args.Error(1)
}

func (s *stubFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	args := s.Called(name, flag, perm)

	file, ok := args.Get(0).(afero.File)
	if file != nil && !ok {
		panic(errAssertion)
	}

	return file, args.Error(1)
}

func (s *stubFs) Remove(name string) error {
	return s.Called(name).Error(0)
}

func (s *stubFs) RemoveAll(path string) error {
	return s.Called(path).Error(0)
}

func (s *stubFs) Rename(oldname, newname string) error {
	return s.Called(oldname, newname).Error(0)
}

func (s *stubFs) Stat(name string) (os.FileInfo, error) {
	args := s.Called(name)

	info, ok := args.Get(0).(os.FileInfo)
	if info != nil && !ok {
		panic(errAssertion)
	}

	return info, args.Error(1)
}

func (s *stubFs) Name() string {
	return s.Called().String(0)
}

func (s *stubFs) Chmod(name string, mode os.FileMode) error {
	return s.Called(name, mode).Error(0)
}

func (s *stubFs) Chown(name string, uid, gid int) error {
	return s.Called(name, uid, gid).Error(0)
}

func (s *stubFs) Chtimes(name string, atime, mtime time.Time) error {
	return s.Called(name, atime, mtime).Error(0)
}

func newStubFs(tb testing.TB) *stubFs {
	tb.Helper()

	s := new(stubFs)
	s.Test(tb)

	tb.Cleanup(func() { s.AssertExpectations(tb) })

	return s
}

var (
	_ os.FileInfo = new(stubFileInfo)
	_ afero.File  = new(stubVolume)
	_ afero.Fs    = new(stubFs)
)

type volumeScenario struct {
	name    string
	arrange func(tb testing.TB) afero.Fs
	wantErr error
}

func scenarioCleanSplit(tb testing.TB) afero.Fs {
	tb.Helper()

	info := newStubFileInfo(tb)
	info.On("Size").Return(int64(100)).Twice()

	first := newStubVolume(tb)
	first.On("Stat").Return(info, nil).Once()
	first.On("Close").Return(nil).Once()

	second := newStubVolume(tb)
	second.On("Stat").Return(info, nil).Once()
	second.On("Close").Return(nil).Once()

	fs := newStubFs(tb)
	fs.On("Open", "volume.7z.001").Return(first, nil).Once()
	fs.On("Open", "volume.7z.002").Return(second, nil).Once()
	fs.On("Open", "volume.7z.003").Return(nil, iofs.ErrNotExist).Once()

	return fs
}

func scenarioFirstVolumeUnopenable(tb testing.TB) afero.Fs {
	tb.Helper()

	fs := newStubFs(tb)
	fs.On("Open", "volume.7z.001").Return(nil, iofs.ErrPermission).Once()

	return fs
}

func scenarioFirstVolumeUnstatable(tb testing.TB) afero.Fs {
	tb.Helper()

	first := newStubVolume(tb)
	first.On("Stat").Return(nil, iofs.ErrPermission).Once()
	first.On("Close").Return(nil).Once()

	fs := newStubFs(tb)
	fs.On("Open", "volume.7z.001").Return(first, nil).Once()

	return fs
}

func scenarioSecondVolumeUnopenable(tb testing.TB) afero.Fs {
	tb.Helper()

	info := newStubFileInfo(tb)
	info.On("Size").Return(int64(100)).Once()

	first := newStubVolume(tb)
	first.On("Stat").Return(info, nil).Once()
	first.On("Close").Return(nil).Once()

	fs := newStubFs(tb)
	fs.On("Open", "volume.7z.001").Return(first, nil).Once()
	fs.On("Open", "volume.7z.002").Return(nil, iofs.ErrPermission).Once()

	return fs
}

func scenarioSecondVolumeUnstatable(tb testing.TB) afero.Fs {
	tb.Helper()

	info := newStubFileInfo(tb)
	info.On("Size").Return(int64(100)).Once()

	first := newStubVolume(tb)
	first.On("Stat").Return(info, nil).Once()
	first.On("Close").Return(nil).Once()

	second := newStubVolume(tb)
	second.On("Stat").Return(nil, iofs.ErrPermission).Once()
	second.On("Close").Return(nil).Once()

	fs := newStubFs(tb)
	fs.On("Open", "volume.7z.001").Return(first, nil).Once()
	fs.On("Open", "volume.7z.002").Return(second, nil).Once()

	return fs
}

func TestOpenReaderVolumeChain(t *testing.T) {
	t.Parallel()

	scenarios := []volumeScenario{
		{name: "every volume opens cleanly", arrange: scenarioCleanSplit},
		{name: "first volume refuses to open", arrange: scenarioFirstVolumeUnopenable, wantErr: iofs.ErrPermission},
		{name: "first volume refuses to stat", arrange: scenarioFirstVolumeUnstatable, wantErr: iofs.ErrPermission},
		{name: "second volume refuses to open", arrange: scenarioSecondVolumeUnopenable, wantErr: iofs.ErrPermission},
		{name: "second volume refuses to stat", arrange: scenarioSecondVolumeUnstatable, wantErr: iofs.ErrPermission},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			t.Parallel()

			_, _, files, err := openReader(sc.arrange(t), "volume.7z.001")

			if sc.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, sc.wantErr)

				return
			}

			t.Cleanup(func() {
				for _, f := range files {
					require.NoError(t, f.Close())
				}
			})
		})
	}
}

// TestDecodeHeaderRespectsRecursionLimit confirms a header claiming to be
// encoded one level past maxEncodedHeaderDepth is rejected outright,
// without attempting to decompress anything.
func TestDecodeHeaderRespectsRecursionLimit(t *testing.T) {
	t.Parallel()

	z := new(Reader)
	br := bufio.NewReader(bytes.NewReader([]byte{idEncodedHeader}))

	_, err := z.decodeHeader(br, maxEncodedHeaderDepth)
	assert.ErrorIs(t, err, errRecursionLimit)
}

// TestDecodeHeaderPlain confirms the non-recursive path still works: a bare
// idHeader/idEnd pair decodes to an empty but non-nil header.
func TestDecodeHeaderPlain(t *testing.T) {
	t.Parallel()

	z := new(Reader)
	br := bufio.NewReader(bytes.NewReader([]byte{idHeader, idEnd}))

	h, err := z.decodeHeader(br, 0)
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Nil(t, h.streams)
	assert.Nil(t, h.files)
}
