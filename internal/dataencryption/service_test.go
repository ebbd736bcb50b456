package dataencryption_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chirino/carevault/internal/dataencryption"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *dataencryption.Service {
	t.Helper()
	svc, err := dataencryption.New(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return svc
}

func requireDecryptFailure(t *testing.T, err error) {
	t.Helper()
	var failure *dataencryption.DecryptFailure
	require.True(t, errors.As(err, &failure), "expected *DecryptFailure, got %v", err)
}

func TestNew_RejectsWrongKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 24, 31, 33} {
		_, err := dataencryption.New(make([]byte, n))
		require.Error(t, err, "key length %d", n)
	}
}

func TestRoundTrip(t *testing.T) {
	svc := newService(t)
	for _, plain := range []string{
		"a",
		"Чувствам тревожност",
		"today was fine 🙂",
		strings.Repeat("long journal entry ", 2000),
	} {
		stored, err := svc.Encrypt(plain)
		require.NoError(t, err)
		require.NotContains(t, stored, plain)

		got, err := svc.Decrypt(stored)
		require.NoError(t, err)
		require.Equal(t, plain, got)
	}
}

func TestEncryptEmptyReturnsNoValue(t *testing.T) {
	svc := newService(t)
	stored, err := svc.Encrypt("")
	require.NoError(t, err)
	require.Equal(t, dataencryption.NoValue, stored)

	got, err := svc.Decrypt(dataencryption.NoValue)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestEncryptUsesFreshIV(t *testing.T) {
	svc := newService(t)
	a, err := svc.Encrypt("same text")
	require.NoError(t, err)
	b, err := svc.Encrypt("same text")
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	envA, err := dataencryption.ParseEnvelope(a)
	require.NoError(t, err)
	envB, err := dataencryption.ParseEnvelope(b)
	require.NoError(t, err)
	require.NotEqual(t, envA.IV, envB.IV)
	require.Len(t, envA.IV, 12)
	require.Len(t, envA.Tag, 16)

	for _, stored := range []string{a, b} {
		got, err := svc.Decrypt(stored)
		require.NoError(t, err)
		require.Equal(t, "same text", got)
	}
}

func TestTamperedTagOrCiphertextFails(t *testing.T) {
	svc := newService(t)
	env, ok, err := svc.Seal("private note")
	require.NoError(t, err)
	require.True(t, ok)

	for i := range env.Tag {
		tampered := dataencryption.Envelope{IV: env.IV, Tag: bytes.Clone(env.Tag), Ciphertext: env.Ciphertext}
		tampered.Tag[i] ^= 0x01
		got, err := svc.Open(tampered)
		requireDecryptFailure(t, err)
		require.Empty(t, got)
	}
	for i := range env.Ciphertext {
		tampered := dataencryption.Envelope{IV: env.IV, Tag: env.Tag, Ciphertext: bytes.Clone(env.Ciphertext)}
		tampered.Ciphertext[i] ^= 0x80
		got, err := svc.Open(tampered)
		requireDecryptFailure(t, err)
		require.Empty(t, got)
	}
}

func TestTamperedHexCharacterFails(t *testing.T) {
	svc := newService(t)
	stored, err := svc.Encrypt("message body")
	require.NoError(t, err)

	parts := strings.Split(stored, ":")
	tag := []byte(parts[1])
	if tag[0] == 'a' {
		tag[0] = 'b'
	} else {
		tag[0] = 'a'
	}
	corrupted := parts[0] + ":" + string(tag) + ":" + parts[2]

	_, err = svc.Decrypt(corrupted)
	requireDecryptFailure(t, err)

	plain, failure := svc.DecryptOrPlaceholder(corrupted)
	require.NotNil(t, failure)
	require.Equal(t, dataencryption.Placeholder, plain)
	require.NotContains(t, failure.Error(), parts[2])
}

func TestMalformedEnvelopes(t *testing.T) {
	svc := newService(t)
	for _, stored := range []string{
		"plaintext that was never encrypted",
		"00:11",
		"zz:zz:zz",
		strings.Repeat("00", 12) + ":" + strings.Repeat("00", 15) + ":00",
		strings.Repeat("00", 12) + ":" + strings.Repeat("00", 16) + ":",
		"a:b:c:d",
	} {
		got, err := svc.Decrypt(stored)
		requireDecryptFailure(t, err)
		require.Empty(t, got)
	}
}

func TestWrongKeyFails(t *testing.T) {
	stored, err := newService(t).Encrypt("secret")
	require.NoError(t, err)

	other, err := dataencryption.New(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)
	_, err = other.Decrypt(stored)
	requireDecryptFailure(t, err)
}
