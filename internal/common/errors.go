// Package common defines shared constants and sentinel errors used across
// the PII vault components. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrDatabase = errors.New("database error")

	// Key-service errors (Secrets Manager / KMS).
	ErrKeyRetrieval = errors.New("key retrieval failed")
	ErrEncryption   = errors.New("encryption failed")
	ErrDecryption   = errors.New("decryption failed")

	// Request validation (client fault, surfaced as 4xx).
	ErrValidation = errors.New("validation error")

	// Generic/internal flow control.
	ErrInternal = errors.New("internal error")
)
