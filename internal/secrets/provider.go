// Package secrets retrieves and caches key material and database credentials
// from AWS Secrets Manager.
//
// The provider keeps one in-memory snapshot per secret, refreshed after a
// configurable TTL (zero means cache for the lifetime of the process) and
// droppable at any time with Invalidate. Refreshing is idempotent: fetching
// again and overwriting with the same values is always safe.
package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/piivault/piivault/internal/common"
	"github.com/piivault/piivault/internal/logging"
)

// Default secret identifiers, matching the provisioning scripts.
const (
	DefaultKeysSecretID        = "pii-encryption-keys"
	DefaultCredentialsSecretID = "pii-database-credentials"
)

// API is the subset of the Secrets Manager client used by the provider.
type API interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// KeyRing holds the versioned level-3 application keys from the key secret.
type KeyRing struct {
	CurrentVersion int
	keys           map[int][]byte
}

// NewKeyRing builds a ring from explicit key material. Production rings come
// from the key secret; this constructor serves tests and key tooling.
func NewKeyRing(currentVersion int, keys map[int][]byte) *KeyRing {
	return &KeyRing{CurrentVersion: currentVersion, keys: keys}
}

// Current returns the active key version and its key material.
func (k *KeyRing) Current() (int, []byte, error) {
	key, err := k.ForVersion(k.CurrentVersion)
	if err != nil {
		return 0, nil, err
	}
	return k.CurrentVersion, key, nil
}

// ForVersion returns the key material for a specific version. Old versions
// stay available after rotation so previously written ciphertexts remain
// decryptable.
func (k *KeyRing) ForVersion(version int) ([]byte, error) {
	key, ok := k.keys[version]
	if !ok {
		return nil, fmt.Errorf("%w: no app key for version %d", common.ErrKeyRetrieval, version)
	}
	return key, nil
}

// Versions returns all known key versions, for health reporting.
func (k *KeyRing) Versions() []int {
	versions := make([]int, 0, len(k.keys))
	for v := range k.keys {
		versions = append(versions, v)
	}
	return versions
}

// Credentials is the database credentials secret.
type Credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// DSN renders the credentials as a pgx-compatible connection string.
func (c *Credentials) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// Provider fetches secrets and serves cached snapshots.
type Provider struct {
	client        API
	logger        logging.Logger
	keysSecretID  string
	credsSecretID string
	ttl           time.Duration
	now           func() time.Time

	mu      sync.Mutex
	keys    *KeyRing
	keysAt  time.Time
	creds   *Credentials
	credsAt time.Time
}

// Option customizes a Provider.
type Option func(*Provider)

// WithTTL sets the cache refresh interval. Zero caches forever.
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.ttl = ttl }
}

// WithSecretIDs overrides the default secret identifiers.
func WithSecretIDs(keysID, credsID string) Option {
	return func(p *Provider) {
		p.keysSecretID = keysID
		p.credsSecretID = credsID
	}
}

func NewProvider(client API, logger logging.Logger, opts ...Option) *Provider {
	p := &Provider{
		client:        client,
		logger:        logger,
		keysSecretID:  DefaultKeysSecretID,
		credsSecretID: DefaultCredentialsSecretID,
		now:           time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AppKeys returns the cached key ring, fetching it when the snapshot is
// missing or stale.
func (p *Provider) AppKeys(ctx context.Context) (*KeyRing, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.keys != nil && !p.stale(p.keysAt) {
		return p.keys, nil
	}

	raw, err := p.fetch(ctx, p.keysSecretID)
	if err != nil {
		return nil, err
	}

	ring, err := parseKeyRing(raw)
	if err != nil {
		return nil, err
	}

	p.keys = ring
	p.keysAt = p.now()
	p.logger.Info(ctx, "application keys refreshed",
		"current_version", ring.CurrentVersion, "versions", len(ring.keys))
	return ring, nil
}

// Credentials returns the cached database credentials, fetching them when the
// snapshot is missing or stale.
func (p *Provider) Credentials(ctx context.Context) (*Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.creds != nil && !p.stale(p.credsAt) {
		return p.creds, nil
	}

	raw, err := p.fetch(ctx, p.credsSecretID)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{}
	if err := json.Unmarshal(raw, creds); err != nil {
		return nil, fmt.Errorf("%w: credentials secret %q: %v", common.ErrKeyRetrieval, p.credsSecretID, err)
	}
	if creds.Host == "" || creds.Database == "" || creds.Username == "" {
		return nil, fmt.Errorf("%w: credentials secret %q is missing required fields", common.ErrKeyRetrieval, p.credsSecretID)
	}

	p.creds = creds
	p.credsAt = p.now()
	p.logger.Info(ctx, "database credentials refreshed", "host", creds.Host, "database", creds.Database)
	return creds, nil
}

// Invalidate drops both cached snapshots; the next call refetches.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = nil
	p.creds = nil
}

func (p *Provider) stale(fetchedAt time.Time) bool {
	if p.ttl <= 0 {
		return false
	}
	return p.now().Sub(fetchedAt) >= p.ttl
}

func (p *Provider) fetch(ctx context.Context, secretID string) ([]byte, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: secret %q: %v", common.ErrKeyRetrieval, secretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("%w: secret %q has no string payload", common.ErrKeyRetrieval, secretID)
	}
	return []byte(*out.SecretString), nil
}

var appKeyNameRe = regexp.MustCompile(`^level3_app_key_v(\d+)$`)

// parseKeyRing decodes the key secret shape:
//
//	{"app_encryption_keys": {"current_version": N, "level3_app_key_v{V}": "<base64>"}}
func parseKeyRing(raw []byte) (*KeyRing, error) {
	var secret struct {
		AppEncryptionKeys map[string]json.RawMessage `json:"app_encryption_keys"`
	}
	if err := json.Unmarshal(raw, &secret); err != nil {
		return nil, fmt.Errorf("%w: key secret: %v", common.ErrKeyRetrieval, err)
	}
	if secret.AppEncryptionKeys == nil {
		return nil, fmt.Errorf("%w: key secret is missing app_encryption_keys", common.ErrKeyRetrieval)
	}

	ring := &KeyRing{keys: make(map[int][]byte)}

	for name, value := range secret.AppEncryptionKeys {
		if name == "current_version" {
			if err := json.Unmarshal(value, &ring.CurrentVersion); err != nil {
				return nil, fmt.Errorf("%w: key secret current_version: %v", common.ErrKeyRetrieval, err)
			}
			continue
		}

		m := appKeyNameRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		var encoded string
		if err := json.Unmarshal(value, &encoded); err != nil {
			return nil, fmt.Errorf("%w: key secret %s: %v", common.ErrKeyRetrieval, name, err)
		}
		key, err := decodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: key secret %s: %v", common.ErrKeyRetrieval, name, err)
		}
		ring.keys[version] = key
	}

	if ring.CurrentVersion == 0 {
		return nil, fmt.Errorf("%w: key secret has no current_version", common.ErrKeyRetrieval)
	}
	if _, ok := ring.keys[ring.CurrentVersion]; !ok {
		return nil, fmt.Errorf("%w: key secret has no key for current version %d", common.ErrKeyRetrieval, ring.CurrentVersion)
	}

	return ring, nil
}

// decodeKey accepts both standard and URL-safe base64; provisioning tools
// emit the URL-safe alphabet.
func decodeKey(encoded string) ([]byte, error) {
	if key, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		return key, nil
	}
	return base64.URLEncoding.DecodeString(encoded)
}
