// Package aes7z implements the 7-zip AES decryption.
package aes7z

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

var (
	errAlreadyClosed          = errors.New("aes7z: already closed")
	errNeedOneReader          = errors.New("aes7z: need exactly one reader")
	errInsufficientProperties = errors.New("aes7z: not enough properties")
	errNoPasswordSet          = errors.New("aes7z: no password set")
	errUnsupportedMethod      = errors.New("aes7z: unsupported compression method")
)

// decryptStream decrypts AES-256-CBC ciphertext read a block at a time from
// an upstream reader, buffering whole plaintext blocks until the caller asks
// for fewer bytes than a block holds.
type decryptStream struct {
	upstream  io.ReadCloser
	salt, iv  []byte
	cycles    int
	block     cipher.BlockMode
	plaintext bytes.Buffer
}

func (d *decryptStream) Close() error {
	if d.upstream == nil {
		return errAlreadyClosed
	}

	if err := d.upstream.Close(); err != nil {
		return fmt.Errorf("aes7z: error closing: %w", err)
	}

	d.upstream = nil

	return nil
}

// Password derives the AES key from p and initialises the CBC decrypter. It
// must run before the first Read.
func (d *decryptStream) Password(p string) error {
	key, err := deriveKey(p, d.cycles, d.salt)
	if err != nil {
		return err
	}

	cipherBlock, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("aes7z: error creating cipher: %w", err)
	}

	d.block = cipher.NewCBCDecrypter(cipherBlock, d.iv)

	return nil
}

func (d *decryptStream) Read(p []byte) (int, error) {
	if d.upstream == nil {
		return 0, errAlreadyClosed
	}

	if d.block == nil {
		return 0, errNoPasswordSet
	}

	var ciphertext [aes.BlockSize]byte

	for d.plaintext.Len() < len(p) {
		if _, err := io.ReadFull(d.upstream, ciphertext[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return 0, fmt.Errorf("aes7z: error reading block: %w", err)
		}

		d.block.CryptBlocks(ciphertext[:], ciphertext[:])

		_, _ = d.plaintext.Write(ciphertext[:])
	}

	n, err := d.plaintext.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("aes7z: error reading: %w", err)
	}

	return n, err
}

// NewReader returns a new AES-256-CBC & SHA-256 io.ReadCloser. The Password
// method must be called before attempting to call Read so that the block
// cipher is correctly initialised.
func NewReader(p []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errNeedOneReader
	}

	// Need at least two bytes initially
	if len(p) < 2 {
		return nil, errInsufficientProperties
	}

	if p[0]&0xc0 == 0 {
		return nil, errUnsupportedMethod
	}

	saltLen := p[0]>>7&1 + p[1]>>4
	ivLen := p[0]>>6&1 + p[1]&0x0f

	if len(p) != int(2+saltLen+ivLen) {
		return nil, errInsufficientProperties
	}

	d := &decryptStream{
		upstream: readers[0],
		cycles:   int(p[0] & 0x3f),
		salt:     p[2 : 2+saltLen],
		iv:       make([]byte, aes.BlockSize),
	}

	copy(d.iv, p[2+saltLen:])

	return d, nil
}
