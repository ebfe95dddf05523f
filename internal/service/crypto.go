package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a configuration value produced by SecretBox.Seal.
const SealedPrefix = "enc:"

// SecretBox encrypts configuration secrets (database passwords, DSNs) with
// AES-256-GCM under a key derived from the server key.
type SecretBox struct {
	aead cipher.AEAD
}

func NewSecretBox(serverKey string) (*SecretBox, error) {
	if len(serverKey) < 32 {
		return nil, errors.New("key must be at least 32 characters")
	}
	key := sha256.Sum256([]byte(serverKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SecretBox{aead: aead}, nil
}

// Seal encrypts plaintext and returns it base64 encoded behind SealedPrefix.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal. Values without SealedPrefix are returned unchanged.
func (b *SecretBox) Open(value string) (string, error) {
	encoded, sealed := strings.CutPrefix(value, SealedPrefix)
	if !sealed {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}

	nonceSize := b.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("opening sealed value: %w", err)
	}
	return string(plaintext), nil
}
