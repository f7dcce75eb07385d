// Package crypto implements server-side password hashing and verification for accounts.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the per-account salt size.
	SaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// NewCredential salts and hashes a fresh account password.
func NewCredential(password string) (hash, salt []byte, err error) {
	salt, err = RandBytes(SaltLen)
	if err != nil {
		return nil, nil, fmt.Errorf("salt: %w", err)
	}
	return HashPassword([]byte(password), salt), salt, nil
}

// dummySalt and dummyHash let sign-in spend the same time on unknown emails.
var (
	dummySalt = []byte("fitsync-dummy-salt")
	dummyHash = HashPassword([]byte("fitsync-dummy-password"), dummySalt)
)

// BurnVerify runs a verification that always fails, so that a missing account costs as much as a wrong password.
func BurnVerify(password string) {
	_ = VerifyPassword([]byte(password), dummySalt, dummyHash)
}
