package vault

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// AgeSealer seals session values to an age scrypt recipient, so the session
// file can only be opened with the operator's passphrase.
type AgeSealer struct {
	passphrase string
	workFactor int
}

// NewAgeSealer returns a passphrase-based sealer. workFactor is the scrypt
// log2 work factor; zero selects age's default.
func NewAgeSealer(passphrase string, workFactor int) (*AgeSealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("age passphrase is required")
	}
	return &AgeSealer{passphrase: passphrase, workFactor: workFactor}, nil
}

// Seal encrypts plaintext and returns it base64-encoded.
func (s *AgeSealer) Seal(plaintext string) (string, error) {
	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return "", fmt.Errorf("creating age recipient: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decrypts a value produced by Seal.
func (s *AgeSealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return "", fmt.Errorf("malformed age payload: %w", err)
	}
	identity, err := age.NewScryptIdentity(s.passphrase)
	if err != nil {
		return "", fmt.Errorf("creating age identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	return string(out), nil
}
