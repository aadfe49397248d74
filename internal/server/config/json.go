package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/piivault/piivault/internal/flagx"
	"github.com/piivault/piivault/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "5m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, its fields are copied into the runtime Config
// struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddr        string         `json:"endpoint_addr"`
	DatabaseDSN         string         `json:"database_dsn"`
	AWSRegion           string         `json:"aws_region"`
	AWSBaseEndpoint     string         `json:"aws_base_endpoint"`
	AWSAccessKeyID      string         `json:"aws_access_key_id"`
	AWSSecretAccessKey  string         `json:"aws_secret_access_key"`
	KeysSecretID        string         `json:"keys_secret_id"`
	CredentialsSecretID string         `json:"credentials_secret_id"`
	Level2KeyAlias      string         `json:"level2_key_alias"`
	Level3KeyAlias      string         `json:"level3_key_alias"`
	KeyCacheTTL         timex.Duration `json:"key_cache_ttl"`
	MaxOpenConns        int            `json:"max_open_conns"`
	MaxIdleConns        int            `json:"max_idle_conns"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.AWSRegion = c.AWSRegion
	config.AWSBaseEndpoint = c.AWSBaseEndpoint
	config.AWSAccessKeyID = c.AWSAccessKeyID
	config.AWSSecretAccessKey = c.AWSSecretAccessKey
	config.KeysSecretID = c.KeysSecretID
	config.CredentialsSecretID = c.CredentialsSecretID
	config.Level2KeyAlias = c.Level2KeyAlias
	config.Level3KeyAlias = c.Level3KeyAlias
	config.KeyCacheTTL = time.Duration(c.KeyCacheTTL.Duration)
	config.MaxOpenConns = c.MaxOpenConns
	config.MaxIdleConns = c.MaxIdleConns
}
