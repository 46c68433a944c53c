// ABOUTME: Node credential generation and verification
// ABOUTME: Credentials are random tokens stored as SHA-256 hashes

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// credentialBytes is the entropy of a freshly minted node credential.
const credentialBytes = 32

// NewCredential generates a random node credential. The plaintext is
// shown once at enrollment; only the hash is persisted.
func NewCredential() (plaintext, hash string, err error) {
	buf := make([]byte, credentialBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generating credential: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, HashCredential(plaintext), nil
}

// HashCredential returns the hex-encoded SHA-256 digest of a credential.
func HashCredential(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// VerifyCredential compares a presented credential against a stored hash
// in constant time.
func VerifyCredential(plaintext, storedHash string) bool {
	candidate := HashCredential(plaintext)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}
