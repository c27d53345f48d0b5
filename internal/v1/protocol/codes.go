package protocol

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet excludes the easily confused characters 0/O and 1/I. Exactly
// 32 characters, so a random byte modulo the alphabet length is unbiased.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateRoomCode produces a cryptographically random room code of the given
// length. Uniqueness is the caller's concern; the registry retries on
// collision with a bounded attempt count.
func GenerateRoomCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("room code length must be positive, got %d", length)
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
