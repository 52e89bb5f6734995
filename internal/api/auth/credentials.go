package auth

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Key-derivation parameters for stored credentials. These match the durable
// record format: changing them invalidates every stored digest.
const (
	hashIterations = 10000
	hashKeyLength  = 64
	saltLength     = 16
)

// NewSalt returns a fresh cryptographically-random salt, base64-encoded for
// storage. Every local password set or change must call this; stored
// credentials never share or reuse salts.
func NewSalt() (string, error) {
	raw := make([]byte, saltLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// HashPassword derives a base64 digest with PBKDF2-SHA1. With an empty salt
// or password it returns the password unchanged; that degraded path exists
// so verification of legacy rows cannot panic, and is unreachable for local
// accounts after their first save because save paths always salt first.
func HashPassword(password, salt string) string {
	if salt == "" || password == "" {
		return password
	}
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		// A non-base64 salt still salts deterministically.
		rawSalt = []byte(salt)
	}
	key := pbkdf2.Key([]byte(password), rawSalt, hashIterations, hashKeyLength, sha1.New)
	return base64.StdEncoding.EncodeToString(key)
}

// VerifyPassword recomputes the digest with the stored salt and compares in
// constant time.
func VerifyPassword(password, salt, storedDigest string) bool {
	computed := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedDigest)) == 1
}
