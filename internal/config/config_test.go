package config

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.DBURL = "file:test.db"
	cfg.DatastoreType = "sqlite"
	cfg.EncryptionKey = hex.EncodeToString(make([]byte, EncryptionKeySize))
	cfg.TokenSecret = strings.Repeat("s", MinTokenSecretLen)
	return cfg
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_MissingEncryptionKeyIsFatal(t *testing.T) {
	cfg := validConfig()
	cfg.EncryptionKey = ""
	require.ErrorContains(t, cfg.Validate(), "--encryption-key")

	cfg.EncryptionKey = hex.EncodeToString(make([]byte, 16))
	require.ErrorContains(t, cfg.Validate(), "--encryption-key")
}

func TestValidate_ShortTokenSecret(t *testing.T) {
	cfg := validConfig()
	cfg.TokenSecret = "short"
	require.ErrorContains(t, cfg.Validate(), "--token-secret")
}

func TestValidate_RedisRequiresURL(t *testing.T) {
	cfg := validConfig()
	cfg.CacheType = "redis"
	require.ErrorContains(t, cfg.Validate(), "--redis-url")

	cfg.RedisURL = "redis://localhost:6379"
	require.NoError(t, cfg.Validate())
}

func TestValidate_UnknownKinds(t *testing.T) {
	cfg := validConfig()
	cfg.DatastoreType = "mongo"
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.CacheType = "infinispan"
	require.Error(t, cfg.Validate())
}

func TestIsAdminEmail(t *testing.T) {
	cfg := Config{AdminEmails: " Root@Example.com, ops@example.com "}
	require.True(t, cfg.IsAdminEmail("root@example.com"))
	require.True(t, cfg.IsAdminEmail("OPS@example.com"))
	require.False(t, cfg.IsAdminEmail("user@example.com"))
	require.False(t, cfg.IsAdminEmail(""))

	var nilCfg *Config
	require.False(t, nilCfg.IsAdminEmail("root@example.com"))
}
