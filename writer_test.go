package sevenzip

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.7z")

	f, err := os.Create(path)
	require.NoError(t, err)

	w := NewWriter(f)

	payloads := map[string][]byte{
		"a.txt":     []byte("alpha"),
		"dir/b.txt": []byte("bravo bravo bravo"),
		"dir/c.txt": bytes.Repeat([]byte("c"), 4096),
	}

	names := []string{"a.txt", "dir/b.txt", "dir/c.txt"}

	for _, name := range names {
		require.NoError(t, w.Write(name, payloads[name]))
	}

	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	assert.Equal(t, names, r.Names())

	for _, file := range r.File {
		rc, err := file.Open()
		require.NoError(t, err)

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		assert.Equal(t, payloads[file.Name], got)
	}

	assert.True(t, r.Test())
}

func TestWriterSingleFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "single.7z")

	f, err := os.Create(path)
	require.NoError(t, err)

	w := NewWriter(f)
	require.NoError(t, w.Write("only.txt", []byte("just one entry")))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	require.Len(t, r.File, 1)

	rc, err := r.File[0].Open()
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, []byte("just one entry"), got)
}

func TestWriterClosedTwice(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "closed.7z")

	f, err := os.Create(path)
	require.NoError(t, err)

	defer f.Close()

	w := NewWriter(f)
	require.NoError(t, w.Write("x", []byte("y")))
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Close(), errClosed)

	_, err = w.Create("z")
	assert.ErrorIs(t, err, errClosed)
}
