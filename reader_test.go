package sevenzip

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeArchive builds a small copy-coded archive from name/content pairs,
// in header order, and returns the path it was written to.
func writeArchive(tb testing.TB, names []string, contents [][]byte) string {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "archive.7z")

	f, err := os.Create(path)
	require.NoError(tb, err)

	defer f.Close()

	w := NewWriter(f)

	for i, name := range names {
		require.NoError(tb, w.Write(name, contents[i]))
	}

	require.NoError(tb, w.Close())

	return path
}

func TestOpenReader(t *testing.T) {
	t.Parallel()

	path := writeArchive(t,
		[]string{"one.txt", "two.txt"},
		[][]byte{[]byte("hello"), []byte("world, this is a second entry")},
	)

	r, err := OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	require.Equal(t, []string{"one.txt", "two.txt"}, r.Names())
}

func ExampleOpenReader() {
	dir, err := os.MkdirTemp("", "sevenzip")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "archive.7z")

	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}

	w := NewWriter(f)

	for i, name := range []string{"01", "02", "03"} {
		if err := w.Write(name, []byte{byte(i + 1)}); err != nil {
			panic(err)
		}
	}

	if err := w.Close(); err != nil {
		panic(err)
	}

	if err := f.Close(); err != nil {
		panic(err)
	}

	r, err := OpenReader(path)
	if err != nil {
		panic(err)
	}
	defer r.Close()

	for _, file := range r.File {
		fmt.Println(file.Name)
	}
	// Output: 01
	// 02
	// 03
}

func BenchmarkCopy(b *testing.B) {
	contents := make([][]byte, 4)
	for i := range contents {
		contents[i] = make([]byte, 1<<16)
	}

	path := writeArchive(b, []string{"a", "b", "c", "d"}, contents)

	h := crc32.NewIEEE()

	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		r, err := OpenReader(path)
		if err != nil {
			b.Fatal(err)
		}

		for _, f := range r.File {
			rc, err := f.Open()
			if err != nil {
				b.Fatal(err)
			}

			h.Reset()

			if _, err := io.Copy(h, rc); err != nil {
				b.Fatal(err)
			}

			rc.Close()
		}

		r.Close()
	}
}
