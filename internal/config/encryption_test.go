package config

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEncryptionKey_HexAndBase64(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")

	key, err := DecodeEncryptionKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, key)

	key, err = DecodeEncryptionKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, key)

	key, err = DecodeEncryptionKey(base64.RawStdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, key)
}

func TestDecodeEncryptionKey_RejectsWrongLength(t *testing.T) {
	for _, value := range []string{
		"00112233445566778899aabbccddeeff", // 16 bytes
		base64.StdEncoding.EncodeToString(make([]byte, 24)),
		hex.EncodeToString(make([]byte, 33)),
	} {
		_, err := DecodeEncryptionKey(value)
		require.Error(t, err, value)
	}
}

func TestDecodeEncryptionKey_RejectsEmptyAndGarbage(t *testing.T) {
	_, err := DecodeEncryptionKey("   ")
	require.ErrorContains(t, err, "empty")

	_, err = DecodeEncryptionKey("not a key!")
	require.Error(t, err)
}
