package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCEPair is a code verifier and its S256 challenge.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE returns a verifier built from 64 random bytes and its S256
// challenge, both unpadded base64url.
func GeneratePKCE() (PKCEPair, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return PKCEPair{}, fmt.Errorf("failed to read random bytes: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	return PKCEPair{
		Verifier:  verifier,
		Challenge: challengeFor(verifier),
	}, nil
}

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// randomURLSafe returns n URL-safe characters from crypto/rand.
func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:n], nil
}
