package config

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/hkdf"

	"github.com/fluviusenergy/fluviusenergy/pkg/log"
)

const keyInfo = "fluviusenergy-credentials"

// Cipher encrypts and decrypts account passwords with AES-256-GCM. The
// stored form is base64(nonce || ciphertext).
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher derives the AES key from passphrase with HKDF-SHA256.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("no encryption key configured")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(passphrase), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Encrypt returns the encoded ciphertext of plaintext.
func (c *Cipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ctx context.Context, encoded string) (string, error) {
	encrypted, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted password: %w", err)
	}
	if len(encrypted) < c.gcm.NonceSize() {
		log.Ctx(ctx).ErrorContext(ctx, "malformed encrypted password", slog.Int("length", len(encrypted)))
		return "", errors.New("malformed encrypted password")
	}
	nonce, ciphertext := encrypted[:c.gcm.NonceSize()], encrypted[c.gcm.NonceSize():]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt password", slog.Any("error", err))
		return "", fmt.Errorf("failed to decrypt password: %w", err)
	}
	return string(plaintext), nil
}
