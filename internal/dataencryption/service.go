package dataencryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Placeholder replaces the plaintext of a field that failed to decrypt.
const Placeholder = "[unreadable: this content could not be decrypted]"

// DecryptFailure reports that a stored field can not be turned back into plaintext.
// Reason never contains key or ciphertext material.
type DecryptFailure struct {
	Reason string
}

func (e *DecryptFailure) Error() string {
	return "decrypt failed: " + e.Reason
}

type contextKey struct{}

// WithContext returns a new context carrying the given Service.
func WithContext(ctx context.Context, svc *Service) context.Context {
	return context.WithValue(ctx, contextKey{}, svc)
}

// FromContext retrieves the Service from the context. Returns nil if none was set.
func FromContext(ctx context.Context) *Service {
	svc, _ := ctx.Value(contextKey{}).(*Service)
	return svc
}

// Service seals and opens text fields with a single AES-256-GCM key.
type Service struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a Service. The key must be exactly 32 bytes.
func New(key []byte) (*Service, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Service{aead: aead, rand: rand.Reader}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with a fresh IV. ok is false for empty input, which
// has no envelope.
func (s *Service) Seal(plaintext string) (env Envelope, ok bool, err error) {
	if plaintext == "" {
		return Envelope{}, false, nil
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(s.rand, iv); err != nil {
		return Envelope{}, false, fmt.Errorf("generating iv: %w", err)
	}
	sealed := s.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - tagSize
	return Envelope{
		IV:         iv,
		Tag:        sealed[split:],
		Ciphertext: sealed[:split],
	}, true, nil
}

// Open verifies the tag and returns the plaintext. Every failure is a *DecryptFailure.
func (s *Service) Open(env Envelope) (string, error) {
	if err := env.validate(); err != nil {
		return "", &DecryptFailure{Reason: err.Error()}
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+tagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)
	plain, err := s.aead.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return "", &DecryptFailure{Reason: "authentication tag mismatch"}
	}
	return string(plain), nil
}

// Encrypt returns the serialized envelope for plaintext, or NoValue when empty.
func (s *Service) Encrypt(plaintext string) (string, error) {
	env, ok, err := s.Seal(plaintext)
	if err != nil || !ok {
		return NoValue, err
	}
	return env.String(), nil
}

// Decrypt parses and opens a stored value. NoValue decrypts to "".
func (s *Service) Decrypt(stored string) (string, error) {
	if stored == NoValue {
		return "", nil
	}
	env, err := ParseEnvelope(stored)
	if err != nil {
		return "", err
	}
	return s.Open(env)
}

// DecryptOrPlaceholder is Decrypt for display paths: a failure yields
// Placeholder and the failure itself.
func (s *Service) DecryptOrPlaceholder(stored string) (string, *DecryptFailure) {
	plain, err := s.Decrypt(stored)
	if err != nil {
		var failure *DecryptFailure
		if !errors.As(err, &failure) {
			failure = &DecryptFailure{Reason: "unexpected decrypt error"}
		}
		return Placeholder, failure
	}
	return plain, nil
}
