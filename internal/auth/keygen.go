// Package auth provides credential utilities: API key generation,
// identity token signing, and request context helpers.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
)

// KeyLength is the fixed length of a generated API key.
const KeyLength = 50

// keyAlphabet is the character set API keys are drawn from.
const keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxUnbiasedByte is the largest multiple of len(keyAlphabet) below 256.
// Bytes at or above it are rejected so every character is equally likely.
const maxUnbiasedByte = 256 - (256 % len(keyAlphabet))

var (
	// ErrInvalidKeyFormat indicates the key format is invalid.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// keyFormatRegex validates the key format.
	keyFormatRegex = regexp.MustCompile(`^[A-Za-z0-9]{50}$`)
)

// GenerateAPIKey creates a new random API key of KeyLength characters
// drawn from letters and digits.
func GenerateAPIKey() (string, error) {
	key := make([]byte, 0, KeyLength)
	buf := make([]byte, KeyLength*2)

	for len(key) < KeyLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate key: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiasedByte {
				continue
			}
			key = append(key, keyAlphabet[int(b)%len(keyAlphabet)])
			if len(key) == KeyLength {
				break
			}
		}
	}

	return string(key), nil
}

// ValidateKeyFormat checks if the key matches the expected format.
// Used to reject obviously malformed keys before touching storage.
func ValidateKeyFormat(key string) bool {
	return keyFormatRegex.MatchString(key)
}
