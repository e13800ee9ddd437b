package config

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

// SecretOpener reveals credentials stored sealed in config files: base64 of
// nonce followed by the AES-256-GCM ciphertext.
type SecretOpener struct {
	aead cipher.AEAD
}

// NewSecretOpener accepts ENCRYPTION_KEY as 32 raw bytes or their base64.
func NewSecretOpener(key string) (*SecretOpener, error) {
	raw := []byte(key)
	if len(raw) != 32 {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return nil, errors.New("encryption key must be 32 bytes or their base64")
		}
		raw = decoded
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SecretOpener{aead: aead}, nil
}

func (o *SecretOpener) Decrypt(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("sealed secret is not base64: %w", err)
	}
	n := o.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("sealed secret too short")
	}
	plain, err := o.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed secret: %w", err)
	}
	return string(plain), nil
}
