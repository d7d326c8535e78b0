package sevenzip

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveInfo(t *testing.T) {
	t.Parallel()

	path := writeArchive(t,
		[]string{"one.txt", "two.txt"},
		[][]byte{[]byte("hello"), []byte("world")},
	)

	r, err := OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	info := r.ArchiveInfo()
	assert.Equal(t, 1, info.Folders)
	assert.Contains(t, info.Method, "COPY")
	assert.True(t, info.Solid, "two files sharing one folder is a solid archive")
	assert.Greater(t, info.Size, int64(0))
	assert.Greater(t, info.HeaderSize, int64(0))
}

func TestList(t *testing.T) {
	t.Parallel()

	path := writeArchive(t, []string{"only.txt"}, [][]byte{[]byte("contents")})

	r, err := OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "only.txt", list[0].Name)
	assert.Equal(t, uint64(len("contents")), list[0].Uncompressed)
	assert.False(t, list[0].IsDirectory)
	assert.True(t, list[0].Archivable)
}

func TestTest(t *testing.T) {
	t.Parallel()

	path := writeArchive(t,
		[]string{"a", "b", "c"},
		[][]byte{[]byte("111"), []byte("222"), []byte("333")},
	)

	r, err := OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	assert.True(t, r.Test())
}

func TestTestWithDetails(t *testing.T) {
	t.Parallel()

	path := writeArchive(t, []string{"clean.txt"}, [][]byte{[]byte("fine")})

	r, err := OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	ok, err := r.TestWithDetails()
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestExtractAll(t *testing.T) {
	t.Parallel()

	path := writeArchive(t,
		[]string{"top.txt", "nested/inner.txt"},
		[][]byte{[]byte("top level"), []byte("nested contents")},
	)

	r, err := OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	dir := t.TempDir()
	fs := afero.NewOsFs()

	require.NoError(t, r.ExtractAll(fs, dir))

	got, err := os.ReadFile(filepath.Join(dir, "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top level", string(got))

	got, err = os.ReadFile(filepath.Join(dir, "nested", "inner.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested contents", string(got))
}

func TestExtractAllRejectsPathEscape(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "escape.7z")

	f, err := os.Create(path)
	require.NoError(t, err)

	w := NewWriter(f)
	require.NoError(t, w.Write("../escape.txt", []byte("nope")))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	dir := t.TempDir()

	err = r.ExtractAll(afero.NewOsFs(), dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPathEscape))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file should be written once any entry fails validation")
}
