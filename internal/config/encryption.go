package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// EncryptionKeySize is the only accepted key length (AES-256).
const EncryptionKeySize = 32

// DecodeEncryptionKey accepts a hex or base64 encoded 32-byte key.
func DecodeEncryptionKey(raw string) ([]byte, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	if b, err := hex.DecodeString(value); err == nil && len(b) == EncryptionKeySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(value); err == nil && len(b) == EncryptionKeySize {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(value); err == nil && len(b) == EncryptionKeySize {
		return b, nil
	}
	return nil, fmt.Errorf("key must be a hex or base64 encoded %d-byte value", EncryptionKeySize)
}

// EncryptionKeyBytes decodes the configured EncryptionKey.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("encryption key is empty")
	}
	return DecodeEncryptionKey(c.EncryptionKey)
}
