package config

import (
	"flag"
	"os"
	"time"

	"github.com/piivault/piivault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   endpoint bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN (overrides the credentials secret)
//	-g string   AWS region
//	-e string   AWS base endpoint (e.g., "http://127.0.0.1:4566/")
//	-k string   encryption keys secret id
//	-q string   database credentials secret id
//	-x string   level-2 KMS key alias
//	-y string   level-3 KMS key alias
//	-t int      key cache TTL, minutes (0 caches forever)
//	-m int      max open database connections
//	-i int      max idle database connections
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - The TTL flag is accepted as an integer in minutes and then converted
//     to a time.Duration value.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-g", "-e", "-k", "-q", "-x", "-y", "-t", "-m", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.AWSRegion, "g", config.AWSRegion, "AWS region")
	fs.StringVar(&config.AWSBaseEndpoint, "e", config.AWSBaseEndpoint, "AWS base endpoint")
	fs.StringVar(&config.KeysSecretID, "k", config.KeysSecretID, "encryption keys secret id")
	fs.StringVar(&config.CredentialsSecretID, "q", config.CredentialsSecretID, "database credentials secret id")
	fs.StringVar(&config.Level2KeyAlias, "x", config.Level2KeyAlias, "level-2 KMS key alias")
	fs.StringVar(&config.Level3KeyAlias, "y", config.Level3KeyAlias, "level-3 KMS key alias")

	keyCacheTTL := fs.Int("t", int(config.KeyCacheTTL.Minutes()), "key_cache_ttl (in minutes)")

	fs.IntVar(&config.MaxOpenConns, "m", config.MaxOpenConns, "max open database connections")
	fs.IntVar(&config.MaxIdleConns, "i", config.MaxIdleConns, "max idle database connections")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.KeyCacheTTL = time.Duration(*keyCacheTTL) * time.Minute
}
