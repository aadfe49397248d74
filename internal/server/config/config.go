// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the PII vault server.
//
// Fields:
//   - EndpointAddr: bind address for the invocation endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty means the DSN is built from
//     the database credentials secret at startup.
//   - AWSRegion / AWSBaseEndpoint: AWS client settings; a base endpoint
//     points the SDK at a local KMS/Secrets Manager stand-in.
//   - AWSAccessKeyID / AWSSecretAccessKey: static credentials for local
//     stand-ins; empty means the default credential chain.
//   - KeysSecretID / CredentialsSecretID: Secrets Manager secret names.
//   - Level2KeyAlias / Level3KeyAlias: KMS key aliases per sensitivity tier.
//   - KeyCacheTTL: how long cached secrets stay valid; zero caches forever.
//   - MaxOpenConns / MaxIdleConns: database pool limits.
type Config struct {
	EndpointAddr        string
	DatabaseDSN         string
	AWSRegion           string
	AWSBaseEndpoint     string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	KeysSecretID        string
	CredentialsSecretID string
	Level2KeyAlias      string
	Level3KeyAlias      string
	KeyCacheTTL         time.Duration
	MaxOpenConns        int
	MaxIdleConns        int
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":8080"
	c.DatabaseDSN = ""
	c.AWSRegion = "us-east-1"
	c.AWSBaseEndpoint = ""
	c.AWSAccessKeyID = ""
	c.AWSSecretAccessKey = ""
	c.KeysSecretID = "pii-encryption-keys"
	c.CredentialsSecretID = "pii-database-credentials"
	c.Level2KeyAlias = "alias/pii-level2"
	c.Level3KeyAlias = "alias/pii-level3"
	c.KeyCacheTTL = 5 * time.Minute
	c.MaxOpenConns = 10
	c.MaxIdleConns = 5
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
