// Package crypto seals exported archives with a passphrase.
//
// Container layout, little-endian:
//
//	magic "LVCR" | version uint32 | salt [32] | nonce [12] | AES-256-GCM ciphertext
//
// The 52-byte header is authenticated as additional data.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
)

const (
	MagicBytes    = "LVCR"
	FormatVersion = 1

	// Extension is appended to the archive name of sealed exports.
	Extension = ".lvcr"

	// Argon2id parameters
	Argon2Time    = 3
	Argon2Memory  = 64 * 1024 // KiB
	Argon2Threads = 4
	Argon2KeyLen  = 32

	SaltSize   = 32
	NonceSize  = 12
	HeaderSize = 4 + 4 + SaltSize + NonceSize
)

var (
	ErrInvalidMagic    = errors.New("invalid file format: not a sealed likevault archive")
	ErrInvalidVersion  = errors.New("unsupported encryption format version")
	ErrDecryptFailed   = errors.New("decryption failed: wrong passphrase or corrupted data")
	ErrEmptyPassphrase = errors.New("passphrase is empty")
)

// DeriveKey derives an AES-256 key from a passphrase using Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)
}

func random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext under passphrase with a fresh salt and nonce.
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	salt, err := random(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce, err := random(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize, HeaderSize+len(plaintext)+gcm.Overhead())
	copy(out[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(out[4:8], FormatVersion)
	copy(out[8:8+SaltSize], salt)
	copy(out[8+SaltSize:HeaderSize], nonce)

	return gcm.Seal(out, nonce, plaintext, out[:HeaderSize]), nil
}

// Decrypt opens data produced by Encrypt.
func Decrypt(data []byte, passphrase string) ([]byte, error) {
	if !IsEncrypted(data) || len(data) < HeaderSize {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != FormatVersion {
		return nil, ErrInvalidVersion
	}

	header := data[:HeaderSize]
	gcm, err := newGCM(passphrase, header[8:8+SaltSize])
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, header[8+SaltSize:], data[HeaderSize:], header)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// DecryptFile reads and opens a sealed archive from disk.
func DecryptFile(path, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Decrypt(data, passphrase)
}

// IsEncrypted reports whether data starts with the container magic.
func IsEncrypted(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == MagicBytes
}

// IsEncryptedFile reports whether the file at path starts with the container magic.
func IsEncryptedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return IsEncrypted(header)
}
