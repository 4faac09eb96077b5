// Package vault provides the security primitives of the console: sealing the
// persisted session at rest (AES-GCM or age) and TLS certificate generation
// for the console daemon.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// keySalt domain-separates keys derived from operator passphrases.
var keySalt = []byte("inok-session-v1")

// Encrypt takes a plaintext string and a 32-byte key, returning an encrypted hex string.
func Encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// The nonce is prepended so Decrypt can find it
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt takes the hex string and the 32-byte key to return the original text.
func Decrypt(cipherHex string, key []byte) (string, error) {
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, actualCiphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, actualCiphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed (wrong key or tampered data)")
	}

	return string(plaintext), nil
}

// ParseKey turns INOK_SESSION_KEY into a 32-byte AES key. A 64-character hex
// string is used as is; anything else is treated as a passphrase and
// stretched with scrypt.
func ParseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty session key")
	}
	if len(s) == 64 {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key, err := scrypt.Key([]byte(s), keySalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	return key, nil
}

// AESSealer seals session values with AES-256-GCM.
type AESSealer struct {
	key []byte
}

// NewAESSealer returns a sealer for a 32-byte key.
func NewAESSealer(key []byte) (*AESSealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("session key must be 32 bytes, got %d", len(key))
	}
	return &AESSealer{key: append([]byte(nil), key...)}, nil
}

func (s *AESSealer) Seal(plaintext string) (string, error) {
	return Encrypt(plaintext, s.key)
}

func (s *AESSealer) Open(sealed string) (string, error) {
	return Decrypt(sealed, s.key)
}
