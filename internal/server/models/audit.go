package models

import (
	"time"

	"github.com/piivault/piivault/internal/pii"
)

// Audit operations.
const (
	AuditOpEncrypt = "encrypt"
	AuditOpDecrypt = "decrypt"
)

// AuditRecord is one encryption_audit row. Rows are append-only and survive
// user deletion: after crypto-shredding the user_id points at a record that
// no longer exists, which is intended for accountability.
type AuditRecord struct {
	ID           int64     `json:"id"`
	UserID       *string   `json:"user_id"`
	FieldName    string    `json:"field_name"`
	Level        pii.Level `json:"pii_level"`
	Operation    string    `json:"operation"`
	AccessedBy   string    `json:"accessed_by"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	AccessedAt   time.Time `json:"accessed_at"`
}
