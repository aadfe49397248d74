package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr":         "www.example:9000",
		"database_dsn":          "postgres://u:p@db:5432/pii",
		"aws_region":            "eu-west-1",
		"aws_base_endpoint":     "http://127.0.0.1:4566/",
		"aws_access_key_id":     "test",
		"aws_secret_access_key": "test",
		"keys_secret_id":        "custom-keys",
		"credentials_secret_id": "custom-creds",
		"level2_key_alias":      "alias/custom-l2",
		"level3_key_alias":      "alias/custom-l3",
		"key_cache_ttl":         "10m",
		"max_open_conns":        20,
		"max_idle_conns":        8,
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddr)
		assert.Equal(t, "postgres://u:p@db:5432/pii", cfg.DatabaseDSN)
		assert.Equal(t, "eu-west-1", cfg.AWSRegion)
		assert.Equal(t, "http://127.0.0.1:4566/", cfg.AWSBaseEndpoint)
		assert.Equal(t, "test", cfg.AWSAccessKeyID)
		assert.Equal(t, "test", cfg.AWSSecretAccessKey)
		assert.Equal(t, "custom-keys", cfg.KeysSecretID)
		assert.Equal(t, "custom-creds", cfg.CredentialsSecretID)
		assert.Equal(t, "alias/custom-l2", cfg.Level2KeyAlias)
		assert.Equal(t, "alias/custom-l3", cfg.Level3KeyAlias)
		assert.Equal(t, 10*time.Minute, cfg.KeyCacheTTL)
		assert.Equal(t, 20, cfg.MaxOpenConns)
		assert.Equal(t, 8, cfg.MaxIdleConns)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			EndpointAddr:        "defaults:1234",
			KeysSecretID:        "keys",
			CredentialsSecretID: "creds",
			KeyCacheTTL:         2 * time.Minute,
			MaxOpenConns:        3,
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.EndpointAddr)
		assert.Equal(t, "keys", cfg.KeysSecretID)
		assert.Equal(t, "creds", cfg.CredentialsSecretID)
		assert.Equal(t, 2*time.Minute, cfg.KeyCacheTTL)
		assert.Equal(t, 3, cfg.MaxOpenConns)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
