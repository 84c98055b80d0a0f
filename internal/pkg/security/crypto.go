package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// KeyEnv overrides the key file when it holds a valid hex key.
const KeyEnv = "NANOSEARCH_MASTER_KEY"

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	ErrInvalidKey = errors.New("master key missing or not 32 bytes")
	ErrShortData  = errors.New("ciphertext too short")
)

// LoadOrCreateKey returns the master key from KeyEnv or keyPath, creating and
// saving a random one when neither holds a valid key. created reports that a
// new key was written.
func LoadOrCreateKey(keyPath string) (key []byte, created bool, err error) {
	if key, ok := decodeKey(os.Getenv(KeyEnv)); ok {
		return key, false, nil
	}

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if key, ok := decodeKey(string(data)); ok {
			return key, false, nil
		}
		return nil, false, fmt.Errorf("key file %s: %w", keyPath, ErrInvalidKey)
	case !errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("read key file: %w", err)
	}

	key = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, false, fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, false, fmt.Errorf("save master key to %s: %w", keyPath, err)
	}
	return key, true, nil
}

func decodeKey(s string) ([]byte, bool) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(key) != KeySize {
		return nil, false
	}
	return key, true
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-GCM and returns nonce + ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt.
func Decrypt(key, data []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(data) < n {
		return nil, ErrShortData
	}
	return gcm.Open(nil, data[:n], data[n:], nil)
}
