package models

import (
	"time"

	"github.com/piivault/piivault/internal/pii"
)

// FieldMetadata is one encryption_metadata row. A row exists iff the field's
// level is 2 or 3. Deleting the row renders the ciphertext column
// undecryptable (crypto-shredding).
type FieldMetadata struct {
	UserID    string
	FieldName string
	Level     pii.Level
	// AppKeyVersion is the application key version used for the level-3
	// inner cipher; zero means NULL (levels 1 and 2 have no local key).
	AppKeyVersion int
	KMSKeyAlias   string
	// Method is the encryption_algorithm column (rds_only, kms_only,
	// double_encryption).
	Method      string
	EncryptedAt time.Time
}
