package aes7z

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type keyCacheEntry struct {
	password string
	cycles   int
	salt     string // []byte isn't comparable
}

const keyCacheSize = 10

//nolint:gochecknoglobals
var keyCache = sync.OnceValues(func() (*lru.Cache[keyCacheEntry, []byte], error) {
	return lru.New[keyCacheEntry, []byte](keyCacheSize)
})

// deriveKey computes the AES-256 key for password under the given cycle
// count and salt, per the 7-zip key-stretching scheme, caching the result
// since the same password/cycles/salt triple recurs across every folder of
// a multi-file encrypted archive.
func deriveKey(password string, cycles int, salt []byte) ([]byte, error) {
	cache, err := keyCache()
	if err != nil {
		return nil, fmt.Errorf("aes7z: error creating cache: %w", err)
	}

	entry := keyCacheEntry{
		password: password,
		cycles:   cycles,
		salt:     hex.EncodeToString(salt),
	}

	if key, ok := cache.Get(entry); ok {
		return key, nil
	}

	buf := bytes.NewBuffer(salt)

	utf16le := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	enc := transform.NewWriter(buf, utf16le.NewEncoder())
	_, _ = enc.Write([]byte(password))

	key := make([]byte, sha256.Size)

	if cycles == 0x3f {
		copy(key, buf.Bytes())
	} else {
		h := sha256.New()
		for i := uint64(0); i < 1<<cycles; i++ {
			_, _ = h.Write(buf.Bytes())
			_ = binary.Write(h, binary.LittleEndian, i)
		}

		copy(key, h.Sum(nil))
	}

	_ = cache.Add(entry, key)

	return key, nil
}
