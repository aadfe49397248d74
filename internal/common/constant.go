// Package common contains shared constants and sentinel errors used across
// the PII vault components.
package common

// AccessedBy is recorded in every audit row as the acting principal.
// The engine itself is the accessor; end-user identity is handled upstream.
const AccessedBy = "pii-encryption-service"

// DecryptionFailedSentinel replaces a field value when its decryption fails
// on a read path, so one bad field does not abort the whole response.
const DecryptionFailedSentinel = "[DECRYPTION_FAILED]"
