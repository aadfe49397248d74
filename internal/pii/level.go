// Package pii classifies field names into one of three sensitivity levels
// and derives the encryption requirements for each level.
//
// Classification is a static, case-insensitive lookup. It is total: a name
// not present in any table is treated as level 1 (plaintext storage). That
// default keeps ingestion from ever failing on an unknown field, at the cost
// of storing new sensitive names unprotected until the table catches up, so
// every defaulted field is logged at warning level.
package pii

import (
	"context"
	"strings"

	"github.com/piivault/piivault/internal/logging"
)

// Level is a PII sensitivity tier. Higher levels get stronger protection.
type Level int

const (
	// Level1 fields rely on storage-level (at-rest) encryption only.
	Level1 Level = 1
	// Level2 fields get field-level envelope encryption.
	Level2 Level = 2
	// Level3 fields get double encryption: a local versioned key plus an
	// outer envelope layer.
	Level3 Level = 3
)

// StorageSuffix is appended to a field name to form the storage column for
// its ciphertext. Level-1 fields map to columns 1:1 with no suffix.
const StorageSuffix = "_encrypted"

var levelTables = map[Level][]string{
	Level1: {
		"email", "first_name", "last_name", "phone", "phone_number",
		"name", "username", "display_name",
	},
	Level2: {
		"address", "street_address", "city", "state", "zip_code", "postal_code",
		"date_of_birth", "dob", "birth_date", "ip_address", "location",
		"country", "region", "timezone",
	},
	Level3: {
		"ssn", "social_security_number", "bank_account", "account_number",
		"credit_card", "credit_card_number", "medical_record", "health_record",
		"passport_number", "driver_license", "tax_id", "national_id",
	},
}

var levelByName = func() map[string]Level {
	m := make(map[string]Level)
	for level, names := range levelTables {
		for _, n := range names {
			m[n] = level
		}
	}
	return m
}()

// Requirements describes what protection a field must receive.
type Requirements struct {
	Level Level
	// RequiresEnvelope is true for levels 2 and 3 (outer KMS layer).
	RequiresEnvelope bool
	// RequiresLocal is true for level 3 only (inner application-layer cipher).
	RequiresLocal bool
	// StorageSuffix is "_encrypted" for levels 2 and 3, empty for level 1.
	StorageSuffix string
}

// Classifier maps field names to levels. It is stateless apart from the
// logger used to flag defaulted names.
type Classifier struct {
	logger logging.Logger
}

func NewClassifier(logger logging.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify returns the sensitivity level for a field name. Matching is
// case-insensitive and ignores surrounding whitespace. Unknown names default
// to Level1 with a warning; Classify never fails.
func (c *Classifier) Classify(ctx context.Context, fieldName string) Level {
	name := strings.ToLower(strings.TrimSpace(fieldName))

	if level, ok := levelByName[name]; ok {
		return level
	}

	c.logger.Warn(ctx, "unknown field defaulted to level 1", "field", fieldName)
	return Level1
}

// Requirements derives the encryption requirements for a field name.
func (c *Classifier) Requirements(ctx context.Context, fieldName string) Requirements {
	level := c.Classify(ctx, fieldName)

	r := Requirements{
		Level:            level,
		RequiresEnvelope: level >= Level2,
		RequiresLocal:    level == Level3,
	}
	if level > Level1 {
		r.StorageSuffix = StorageSuffix
	}
	return r
}

// StorageColumn maps a field name to the column its value is stored under.
func StorageColumn(fieldName string, level Level) string {
	if level > Level1 {
		return fieldName + StorageSuffix
	}
	return fieldName
}

// FieldFromColumn reverses StorageColumn: it returns the original field name
// and whether the column holds ciphertext.
func FieldFromColumn(column string) (string, bool) {
	if strings.HasSuffix(column, StorageSuffix) {
		return strings.TrimSuffix(column, StorageSuffix), true
	}
	return column, false
}
