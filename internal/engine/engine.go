// Package engine implements the tiered field-encryption protocol.
//
// Per level:
//
//	Level 1: identity both ways; storage-level encryption is considered enough.
//	Level 2: one envelope-encryption call; stored value is base64 of the
//	         envelope ciphertext blob.
//	Level 3: double encryption. The value is first sealed with the current
//	         versioned application key, then the sealed blob goes through the
//	         envelope layer. The envelope layer is strictly outermost, and the
//	         application key version used is recorded so rotation never
//	         invalidates old ciphertexts.
package engine

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/piivault/piivault/internal/common"
	"github.com/piivault/piivault/internal/cryptox"
	"github.com/piivault/piivault/internal/kmsx"
	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/pii"
	"github.com/piivault/piivault/internal/secrets"
)

// Encryption methods recorded in metadata rows.
const (
	MethodRDSOnly          = "rds_only"
	MethodKMSOnly          = "kms_only"
	MethodDoubleEncryption = "double_encryption"
)

// Envelope is the external envelope-encryption service (KMS-equivalent).
type Envelope interface {
	Encrypt(ctx context.Context, alias string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KeySource supplies the versioned application key ring.
type KeySource interface {
	AppKeys(ctx context.Context) (*secrets.KeyRing, error)
}

// FieldResult is the outcome of encrypting one field.
type FieldResult struct {
	// Value is nil when the input was empty; otherwise the storable value
	// (plaintext for level 1, base64 ciphertext for levels 2/3).
	Value         *string
	Encrypted     bool
	Level         pii.Level
	Method        string
	// AppKeyVersion is set for level 3 only.
	AppKeyVersion int
	// KMSKeyAlias is set for levels 2 and 3.
	KMSKeyAlias   string
}

// FieldMeta is the stored encryption metadata consulted on decryption.
// Level takes precedence over fresh classification so data written under an
// older classification table still decrypts correctly.
type FieldMeta struct {
	Level         pii.Level
	Method        string
	AppKeyVersion int
	KMSKeyAlias   string
}

// Engine encrypts and decrypts individual fields according to their level.
type Engine struct {
	classifier  *pii.Classifier
	envelope    Envelope
	keys        KeySource
	logger      logging.Logger
	level2Alias string
	level3Alias string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithAliases overrides the default KMS key aliases for levels 2 and 3.
func WithAliases(level2, level3 string) Option {
	return func(e *Engine) {
		e.level2Alias = level2
		e.level3Alias = level3
	}
}

func New(classifier *pii.Classifier, envelope Envelope, keys KeySource, logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		classifier:  classifier,
		envelope:    envelope,
		keys:        keys,
		logger:      logger,
		level2Alias: kmsx.DefaultLevel2Alias,
		level3Alias: kmsx.DefaultLevel3Alias,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// EncryptField classifies a field and encrypts its value per the level's
// protocol. An empty value short-circuits to an unencrypted nil result
// regardless of the classified level: values are never "encrypted empty".
func (e *Engine) EncryptField(ctx context.Context, fieldName, value string) (*FieldResult, error) {
	if value == "" {
		return &FieldResult{Value: nil, Encrypted: false, Level: pii.Level1}, nil
	}

	level := e.classifier.Classify(ctx, fieldName)

	switch level {
	case pii.Level2:
		blob, err := e.envelope.Encrypt(ctx, e.level2Alias, []byte(value))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fieldName, err)
		}
		encoded := base64.StdEncoding.EncodeToString(blob)
		return &FieldResult{
			Value:       &encoded,
			Encrypted:   true,
			Level:       pii.Level2,
			Method:      MethodKMSOnly,
			KMSKeyAlias: e.level2Alias,
		}, nil

	case pii.Level3:
		ring, err := e.keys.AppKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fieldName, err)
		}
		version, key, err := ring.Current()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fieldName, err)
		}

		sealed, err := cryptox.Seal([]byte(value), key)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fieldName, err)
		}

		blob, err := e.envelope.Encrypt(ctx, e.level3Alias, sealed)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fieldName, err)
		}

		encoded := base64.StdEncoding.EncodeToString(blob)
		e.logger.Debug(ctx, "field double-encrypted", "field", fieldName, "key_version", version)
		return &FieldResult{
			Value:         &encoded,
			Encrypted:     true,
			Level:         pii.Level3,
			Method:        MethodDoubleEncryption,
			AppKeyVersion: version,
			KMSKeyAlias:   e.level3Alias,
		}, nil

	default:
		return &FieldResult{
			Value:     &value,
			Encrypted: false,
			Level:     pii.Level1,
			Method:    MethodRDSOnly,
		}, nil
	}
}

// DecryptField reverses EncryptField. When meta is non-nil its level
// overrides fresh classification; for level 3 the application key is chosen
// by meta.AppKeyVersion (version 1 when unset, matching the earliest data).
func (e *Engine) DecryptField(ctx context.Context, fieldName, encryptedValue string, meta *FieldMeta) (string, error) {
	if encryptedValue == "" {
		return encryptedValue, nil
	}

	level := e.classifier.Classify(ctx, fieldName)
	if meta != nil && meta.Level != 0 {
		level = meta.Level
	}

	switch level {
	case pii.Level2:
		blob, err := base64.StdEncoding.DecodeString(encryptedValue)
		if err != nil {
			return "", fmt.Errorf("%w: field %s: %v", common.ErrDecryption, fieldName, err)
		}
		plaintext, err := e.envelope.Decrypt(ctx, blob)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", fieldName, err)
		}
		return string(plaintext), nil

	case pii.Level3:
		blob, err := base64.StdEncoding.DecodeString(encryptedValue)
		if err != nil {
			return "", fmt.Errorf("%w: field %s: %v", common.ErrDecryption, fieldName, err)
		}

		sealed, err := e.envelope.Decrypt(ctx, blob)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", fieldName, err)
		}

		version := 1
		if meta != nil && meta.AppKeyVersion != 0 {
			version = meta.AppKeyVersion
		}

		ring, err := e.keys.AppKeys(ctx)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", fieldName, err)
		}
		key, err := ring.ForVersion(version)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", fieldName, err)
		}

		plaintext, err := cryptox.Open(sealed, key)
		if err != nil {
			return "", fmt.Errorf("field %s (key v%d): %w", fieldName, version, err)
		}
		return string(plaintext), nil

	default:
		return encryptedValue, nil
	}
}
