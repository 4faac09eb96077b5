// Package storage persists the client-side session footprint: the bearer
// token and the JSON user snapshot, each under a fixed key.
package storage

import (
	"errors"
	"strings"
)

// ErrKeyNotFound is returned when a requested key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// sealedPrefix marks values written through a Sealer.
const sealedPrefix = "sealed:"

// Sealer encrypts values at rest. internal/vault provides implementations.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

func seal(s Sealer, value string) (string, error) {
	if s == nil {
		return value, nil
	}
	out, err := s.Seal(value)
	if err != nil {
		return "", err
	}
	return sealedPrefix + out, nil
}

// unseal opens sealed values. Plain values written before a sealer was
// configured are returned as they are.
func unseal(s Sealer, value string) (string, error) {
	rest, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return value, nil
	}
	if s == nil {
		return "", errors.New("value is sealed but no session key is configured")
	}
	return s.Open(rest)
}
