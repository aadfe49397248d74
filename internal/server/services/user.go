// Package services composes the classifier, the encryption engine, and the
// repositories into the user-facing operations the dispatcher routes to.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/piivault/piivault/internal/common"
	"github.com/piivault/piivault/internal/engine"
	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/pii"
	"github.com/piivault/piivault/internal/server/models"
	"github.com/piivault/piivault/internal/server/repositories/users"
)

// FieldCrypter is the slice of the encryption engine the service needs.
type FieldCrypter interface {
	EncryptField(ctx context.Context, fieldName, value string) (*engine.FieldResult, error)
	DecryptField(ctx context.Context, fieldName, encryptedValue string, meta *engine.FieldMeta) (string, error)
}

// EncryptedFields is the storable outcome of encrypting a record: values
// keyed by storage column, metadata keyed by original field name.
type EncryptedFields struct {
	Fields   map[string]string
	Metadata map[string]models.FieldMetadata
}

// UserService implements the create/get/list/delete/update pipelines.
type UserService struct {
	repo   users.Repository
	crypto FieldCrypter
	audit  *AuditLogger
	logger logging.Logger
}

func NewUserService(repo users.Repository, crypto FieldCrypter, audit *AuditLogger, logger logging.Logger) *UserService {
	return &UserService{repo: repo, crypto: crypto, audit: audit, logger: logger}
}

// EncryptFields runs every non-empty field through the engine. Any failure
// aborts the whole batch: a record is stored fully protected or not at all.
func (s *UserService) EncryptFields(ctx context.Context, data map[string]string) (*EncryptedFields, error) {
	out := &EncryptedFields{
		Fields:   make(map[string]string),
		Metadata: make(map[string]models.FieldMetadata),
	}

	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result, err := s.crypto.EncryptField(ctx, name, data[name])
		if err != nil {
			return nil, fmt.Errorf("encrypt %s: %w", name, err)
		}
		if result.Value == nil {
			continue
		}

		column := pii.StorageColumn(name, result.Level)
		out.Fields[column] = *result.Value

		if result.Encrypted {
			out.Metadata[name] = models.FieldMetadata{
				FieldName:     name,
				Level:         result.Level,
				AppKeyVersion: result.AppKeyVersion,
				KMSKeyAlias:   result.KMSKeyAlias,
				Method:        result.Method,
			}
		}
	}

	return out, nil
}

// Create encrypts data and stores the user and metadata rows in one
// transaction, then audits one encrypt access per stored field.
func (s *UserService) Create(ctx context.Context, data map[string]string) (string, int, error) {
	if len(data) == 0 {
		return "", 0, fmt.Errorf("%w: missing 'data'", common.ErrValidation)
	}

	encrypted, err := s.EncryptFields(ctx, data)
	if err != nil {
		return "", 0, err
	}

	metadata := make([]models.FieldMetadata, 0, len(encrypted.Metadata))
	for _, m := range encrypted.Metadata {
		metadata = append(metadata, m)
	}
	sort.Slice(metadata, func(i, j int) bool { return metadata[i].FieldName < metadata[j].FieldName })

	userID, err := s.repo.Create(ctx, encrypted.Fields, metadata)
	if err != nil {
		return "", 0, err
	}

	for name := range data {
		level := pii.Level1
		if m, ok := encrypted.Metadata[name]; ok {
			level = m.Level
		}
		s.audit.Log(ctx, userID, name, level, models.AuditOpEncrypt, true, "")
	}

	s.logger.Info(ctx, "user created", "user_id", userID, "fields", len(data))
	return userID, len(data), nil
}

// Get retrieves and decrypts a user record. Decryption failures are isolated
// per field: the failed field is rendered as the sentinel value, audited as a
// failed access, and the rest of the record is returned normally.
func (s *UserService) Get(ctx context.Context, userID string) (map[string]string, error) {
	rec, metadata, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(rec.Columns))

	for column, value := range rec.Columns {
		name, isEncrypted := pii.FieldFromColumn(column)
		if !isEncrypted {
			result[column] = value
			continue
		}

		meta := fieldMeta(metadata, name)

		plaintext, err := s.crypto.DecryptField(ctx, name, value, meta)
		if err != nil {
			s.logger.Error(ctx, "field decryption failed",
				"user_id", userID, "field", name, "error", err)
			result[name] = common.DecryptionFailedSentinel
			s.audit.Log(ctx, userID, name, metaLevel(meta), models.AuditOpDecrypt, false, err.Error())
			continue
		}

		result[name] = plaintext
		s.audit.Log(ctx, userID, name, metaLevel(meta), models.AuditOpDecrypt, true, "")
	}

	return result, nil
}

// DecryptFields decrypts a detached ciphertext bundle (the raw decrypt
// operation). Unlike Get, there is no stored record to fall back on, so any
// failure aborts the batch.
func (s *UserService) DecryptFields(ctx context.Context, encryptedData map[string]string, metadata map[string]models.FieldMetadata) (map[string]string, error) {
	result := make(map[string]string, len(encryptedData))

	columns := make([]string, 0, len(encryptedData))
	for column := range encryptedData {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	for _, column := range columns {
		name, isEncrypted := pii.FieldFromColumn(column)
		if !isEncrypted {
			result[column] = encryptedData[column]
			continue
		}

		plaintext, err := s.crypto.DecryptField(ctx, name, encryptedData[column], fieldMeta(metadata, name))
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", name, err)
		}
		result[name] = plaintext
	}

	return result, nil
}

// List returns reduced-information summaries and the total count.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]models.UserSummary, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Delete removes the user row; the metadata rows cascade away with it, which
// crypto-shreds every encrypted field. Audit rows are retained on purpose.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Info(ctx, "user deleted, metadata crypto-shredded", "user_id", userID)
	return nil
}

// Update re-encrypts the given fields and overwrites them column by column,
// upserting metadata for the encrypted ones.
func (s *UserService) Update(ctx context.Context, userID string, data map[string]string) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: missing 'data'", common.ErrValidation)
	}

	encrypted, err := s.EncryptFields(ctx, data)
	if err != nil {
		return 0, err
	}

	columns := make([]string, 0, len(encrypted.Fields))
	for column := range encrypted.Fields {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	updated := 0

	for _, column := range columns {
		var meta *models.FieldMetadata
		name := strings.TrimSuffix(column, pii.StorageSuffix)
		if m, ok := encrypted.Metadata[name]; ok {
			meta = &m
		}

		if err := s.repo.UpdateField(ctx, userID, column, encrypted.Fields[column], meta); err != nil {
			return updated, err
		}

		level := pii.Level1
		if meta != nil {
			level = meta.Level
		}
		s.audit.Log(ctx, userID, name, level, models.AuditOpEncrypt, true, "")
		updated++
	}

	return updated, nil
}

// AuditTrail returns the most recent audit records, optionally per user.
func (s *UserService) AuditTrail(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error) {
	return s.audit.repo.Trail(ctx, userID, limit)
}

func fieldMeta(metadata map[string]models.FieldMetadata, name string) *engine.FieldMeta {
	m, ok := metadata[name]
	if !ok {
		return nil
	}
	return &engine.FieldMeta{
		Level:         m.Level,
		Method:        m.Method,
		AppKeyVersion: m.AppKeyVersion,
		KMSKeyAlias:   m.KMSKeyAlias,
	}
}

func metaLevel(meta *engine.FieldMeta) pii.Level {
	if meta == nil {
		return pii.Level1
	}
	return meta.Level
}
